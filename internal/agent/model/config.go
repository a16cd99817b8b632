package model

// ================ Config ================
type ConversationConfig struct {
	TTL     string `envconfig:"CONVERSATION_TTL" default:"30m"`
	Clarify struct {
		MaxTurns int `envconfig:"CONVERSATION_CLARIFY_MAX_TURNS" default:"3"`
	}
}

type PipelineConfig struct {
	Tables         []string `envconfig:"PIPELINE_TABLES" default:"orders_ia,orders_items_ia"`
	MaxSQLAttempts int      `envconfig:"PIPELINE_MAX_SQL_ATTEMPTS" default:"3"`
	RowLimit       int      `envconfig:"PIPELINE_ROW_LIMIT" default:"5"`
}

type ClassifierModelConfig struct {
	Model       string  `envconfig:"CLASSIFIER_MODEL" default:"gemini-2.5-flash-lite"`
	MaxTokens   int     `envconfig:"CLASSIFIER_MAX_TOKENS" default:"512"`
	Temperature float32 `envconfig:"CLASSIFIER_TEMPERATURE" default:"0.0"`
}

type SQLModelConfig struct {
	Model       string  `envconfig:"SQL_MODEL" default:"gemini-2.5-flash"`
	MaxTokens   int     `envconfig:"SQL_MAX_TOKENS" default:"2000"`
	Temperature float32 `envconfig:"SQL_TEMPERATURE" default:"0.1"`
}

type AnswerModelConfig struct {
	Model       string  `envconfig:"ANSWER_MODEL" default:"gemini-2.5-flash"`
	MaxTokens   int     `envconfig:"ANSWER_MAX_TOKENS" default:"2000"`
	Temperature float32 `envconfig:"ANSWER_TEMPERATURE" default:"0.4"`
}
