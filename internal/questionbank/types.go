package questionbank

// Question is a single multiple-choice practice question.
type Question struct {
	ID            string   `yaml:"id" json:"id"`
	Topic         string   `yaml:"topic" json:"topic"`
	Prompt        string   `yaml:"question" json:"question"`
	Options       []string `yaml:"options" json:"options"`
	CorrectAnswer int      `yaml:"correct_answer" json:"correct_answer"`
	Explanation   string   `yaml:"explanation" json:"explanation"`
}

// IsCorrect reports whether option is the index of the correct answer.
func (q Question) IsCorrect(option int) bool {
	return option == q.CorrectAnswer
}

// Board holds the topics and questions for one subject under one exam board.
type Board struct {
	Subject       string     `yaml:"subject" json:"subject"`
	Board         string     `yaml:"board" json:"board"`
	Qualification string     `yaml:"qualification" json:"qualification,omitempty"`
	Topics        []string   `yaml:"topics" json:"topics"`
	Questions     []Question `yaml:"questions" json:"-"`
}

// BoardInfo summarises a board for listings.
type BoardInfo struct {
	Subject       string `json:"subject"`
	Board         string `json:"board"`
	Qualification string `json:"qualification,omitempty"`
	TopicCount    int    `json:"topic_count"`
	QuestionCount int    `json:"question_count"`
}

// TopicInfo is a topic label with the number of questions the bank holds for it.
type TopicInfo struct {
	Name          string `json:"name"`
	QuestionCount int    `json:"question_count"`
}
