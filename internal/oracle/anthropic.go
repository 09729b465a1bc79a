package oracle

import (
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/ShayCichocki/lakeforge/internal/capability"
	"github.com/ShayCichocki/lakeforge/pkg/models"
)

// buildParams renders a Request as Messages API parameters.
func buildParams(model anthropic.Model, maxTokens int64, req Request) (anthropic.MessageNewParams, error) {
	messages, err := toMessages(req.Transcript)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}
	tools, err := toTools(req.Capabilities)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}

	params := anthropic.MessageNewParams{
		Model:     model,
		MaxTokens: maxTokens,
		Messages:  messages,
		Tools:     tools,
	}
	if req.Framing != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.Framing}}
	}
	return params, nil
}

// toMessages converts the transcript into alternating user/assistant messages.
func toMessages(turns []models.Turn) ([]anthropic.MessageParam, error) {
	messages := make([]anthropic.MessageParam, 0, len(turns))
	for i, turn := range turns {
		switch t := turn.(type) {
		case models.UserTurn:
			if len(t.Results) > 0 {
				blocks := make([]anthropic.ContentBlockParamUnion, 0, len(t.Results))
				for _, r := range t.Results {
					blocks = append(blocks, anthropic.NewToolResultBlock(r.RequestID, r.Payload, r.Failed))
				}
				messages = append(messages, anthropic.NewUserMessage(blocks...))
				continue
			}
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(t.Text)))

		case models.OracleTurn:
			blocks := make([]anthropic.ContentBlockParamUnion, 0, len(t.Blocks))
			for _, b := range t.Blocks {
				switch blk := b.(type) {
				case models.TextBlock:
					if blk.Text == "" {
						continue
					}
					blocks = append(blocks, anthropic.NewTextBlock(blk.Text))
				case models.ActionRequest:
					args := blk.Arguments
					if len(args) == 0 {
						args = json.RawMessage(`{}`)
					}
					blocks = append(blocks, anthropic.NewToolUseBlock(blk.ID, args, blk.Name))
				default:
					return nil, fmt.Errorf("turn %d: unsupported content block %T", i, b)
				}
			}
			messages = append(messages, anthropic.NewAssistantMessage(blocks...))

		default:
			return nil, fmt.Errorf("turn %d: unsupported turn %T", i, turn)
		}
	}
	return messages, nil
}

// toolSchema is the subset of a JSON schema the Messages API accepts for tools.
type toolSchema struct {
	Properties map[string]any `json:"properties"`
	Required   []string       `json:"required"`
}

// toTools converts capability declarations into tool definitions.
func toTools(decls []capability.Declaration) ([]anthropic.ToolUnionParam, error) {
	if len(decls) == 0 {
		return nil, nil
	}
	tools := make([]anthropic.ToolUnionParam, 0, len(decls))
	for _, d := range decls {
		var s toolSchema
		if len(d.InputSchema) > 0 {
			if err := json.Unmarshal(d.InputSchema, &s); err != nil {
				return nil, fmt.Errorf("capability %s: decode schema: %w", d.Name, err)
			}
		}
		if s.Properties == nil {
			s.Properties = map[string]any{}
		}
		tools = append(tools, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        d.Name,
				Description: anthropic.String(d.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: s.Properties,
					Required:   s.Required,
				},
			},
		})
	}
	return tools, nil
}

// stopSignalFor maps Messages API stop reasons onto loop stop signals.
// Reasons other than end_turn and tool_use pass through verbatim so the
// loop can reject them.
func stopSignalFor(reason anthropic.StopReason) StopSignal {
	switch reason {
	case anthropic.StopReasonEndTurn:
		return StopCompleted
	case anthropic.StopReasonToolUse:
		return StopActionsRequested
	default:
		return StopSignal(reason)
	}
}

// convertMessage converts an API response into a Response.
func convertMessage(msg *anthropic.Message) *Response {
	resp := &Response{
		Stop: stopSignalFor(msg.StopReason),
		Usage: Usage{
			InputTokens:  msg.Usage.InputTokens,
			OutputTokens: msg.Usage.OutputTokens,
		},
	}

	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			resp.Blocks = append(resp.Blocks, models.TextBlock{Text: variant.Text})
		case anthropic.ToolUseBlock:
			resp.Blocks = append(resp.Blocks, models.ActionRequest{
				ID:        variant.ID,
				Name:      variant.Name,
				Arguments: append(json.RawMessage(nil), variant.Input...),
			})
		}
	}
	return resp
}
