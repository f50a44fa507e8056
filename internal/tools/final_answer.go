package tools

import (
	"context"

	"github.com/agentoven/hearth/internal/tracing"
)

// FinalAnswerName is the sentinel tool that tells the loop to stop thinking.
const FinalAnswerName = "final_answer"

type finalAnswerInput struct {
	Answer string `json:"answer" description:"Short summary of what the reply should say"`
}

// NewFinalAnswer builds the sentinel tool. Executing it only echoes the
// summary back so it lands in the tool context.
func NewFinalAnswer() (Tool, error) {
	respond, err := Bind("respond", "Finish planning and answer the user",
		func(_ context.Context, in finalAnswerInput, _ tracing.TraceContext) (Result, error) {
			return Ok(map[string]string{"answer": in.Answer}), nil
		})
	if err != nil {
		return nil, err
	}
	return NewTool(FinalAnswerName, "Use when enough is known to answer the user.", respond), nil
}
