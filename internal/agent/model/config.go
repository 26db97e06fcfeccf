package model

// ================ Config ================

// ReasoningModelConfig drives the planning, next-step, information-seeking,
// global sensemaking and presentation agents.
type ReasoningModelConfig struct {
	Model          string  `envconfig:"REASONING_MODEL" default:"gemini-2.5-flash"`
	MaxTokens      int     `envconfig:"REASONING_MAX_TOKENS" default:"4000"`
	Temperature    float32 `envconfig:"REASONING_TEMPERATURE" default:"0.2"`
	ThinkingBudget int32   `envconfig:"REASONING_THINKING_BUDGET" default:"1024"`
	JSONOnly       bool    `envconfig:"REASONING_JSON_ONLY" default:"true"`
}

// DataModelConfig drives the database manager, local sensemaking, summaries and code generation.
type DataModelConfig struct {
	Model          string  `envconfig:"DATA_MODEL" default:"gemini-2.5-flash-lite"`
	MaxTokens      int     `envconfig:"DATA_MAX_TOKENS" default:"4000"`
	Temperature    float32 `envconfig:"DATA_TEMPERATURE" default:"0.1"`
	ThinkingBudget int32   `envconfig:"DATA_THINKING_BUDGET" default:"512"`
	JSONOnly       bool    `envconfig:"DATA_JSON_ONLY" default:"true"`
}

// SensemakingConfig bounds the control loop.
type SensemakingConfig struct {
	MaxIterations int `envconfig:"SENSEMAKING_MAX_ITERATIONS" default:"3"`
	MaxDecisions  int `envconfig:"SENSEMAKING_MAX_DECISIONS" default:"8"`
	MaxAttempts   int `envconfig:"SENSEMAKING_MAX_ATTEMPTS" default:"2"`
}

type DBManagerConfig struct {
	IncludeCompute   bool `envconfig:"DBMANAGER_INCLUDE_COMPUTE" default:"true"`
	ComputeOnly      bool `envconfig:"DBMANAGER_COMPUTE_ONLY" default:"false"`
	IncludeSummaries bool `envconfig:"DBMANAGER_INCLUDE_SUMMARIES" default:"false"`
}

type CodeGenConfig struct {
	MaxRounds   int    `envconfig:"CODEGEN_MAX_ROUNDS" default:"6"`
	ExecTimeout string `envconfig:"CODEGEN_EXEC_TIMEOUT" default:"20s"`
}

type SessionConfig struct {
	TTL string `envconfig:"SESSION_TTL" default:"24h"`
}

type DataConfig struct {
	DefaultTimezone    string            `envconfig:"DATA_DEFAULT_TIMEZONE" default:"America/New_York"`
	UserTimezones      map[string]string `envconfig:"DATA_USER_TIMEZONES"`
	SummaryWindowHours int               `envconfig:"SUMMARY_WINDOW_HOURS" default:"3"`
}
