package models

// Response is an AI completion recorded against a prompt. A Response is owned
// by its Prompt: the parent must exist before a response is created or
// imported, and a prompt with responses survives replace-all reconciliation.
type Response struct {
	ID               string   `db:"id" json:"id"`
	PromptID         string   `db:"prompt_id" json:"promptId"`
	UserID           *string  `db:"user_id" json:"userId,omitempty"`
	ResponseText     string   `db:"response_text" json:"responseText"`
	ModelUsed        string   `db:"model_used" json:"modelUsed"`
	PromptTokens     int      `db:"prompt_tokens" json:"promptTokens"`
	CompletionTokens int      `db:"completion_tokens" json:"completionTokens"`
	TotalTokens      int      `db:"total_tokens" json:"totalTokens"`
	CreatedAt        string   `db:"created_at" json:"createdAt"`
	LastEdited       *string  `db:"last_edited" json:"lastEdited,omitempty"`
	VariablesUsed    []string `json:"variablesUsed,omitempty"`
}
