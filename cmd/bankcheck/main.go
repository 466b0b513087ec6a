// Command bankcheck validates question bank files and prints per-board counts.
package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/p-n-ai/pai-revise/internal/questionbank"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("bankcheck", flag.ContinueOnError)
	fs.SetOutput(stderr)
	dir := fs.String("dir", "", "directory of bank YAML files (default: built-in bank)")
	strict := fs.Bool("strict", false, "fail when a listed topic has no questions")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(stderr, nil)))

	var (
		bank *questionbank.Bank
		err  error
	)
	if *dir == "" {
		bank, err = questionbank.Default()
	} else {
		bank, err = questionbank.Load(os.DirFS(*dir))
	}
	if err != nil {
		fmt.Fprintf(stderr, "bankcheck: %v\n", err)
		return 1
	}

	boards := bank.Boards()
	if len(boards) == 0 {
		fmt.Fprintln(stderr, "bankcheck: no valid boards found")
		return 1
	}

	tw := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SUBJECT\tBOARD\tQUALIFICATION\tTOPICS\tQUESTIONS\tEMPTY TOPICS")
	empty := 0
	for _, b := range boards {
		infos, err := bank.TopicInfos(b.Subject, b.Board)
		if err != nil {
			fmt.Fprintf(stderr, "bankcheck: %v\n", err)
			return 1
		}
		n := 0
		for _, t := range infos {
			if t.QuestionCount == 0 {
				n++
			}
		}
		empty += n
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\n", b.Subject, b.Board, b.Qualification, b.TopicCount, b.QuestionCount, n)
	}
	if err := tw.Flush(); err != nil {
		return 1
	}

	if *strict && empty > 0 {
		fmt.Fprintf(stderr, "bankcheck: %d topics have no questions\n", empty)
		return 1
	}
	return 0
}
