package admin

import (
	"context"
	"errors"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/gamevox/pkg/speaker"
)

type listSpeakersArgs struct{}

// SpeakerInfo is the MCP view of one profile. Embeddings are omitted.
type SpeakerInfo struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	EnrolledAt string `json:"enrolled_at"`
	Dimensions int    `json:"dimensions"`
}

type listSpeakersResult struct {
	Speakers []SpeakerInfo `json:"speakers"`
}

type removeSpeakerArgs struct {
	Name string `json:"name" jsonschema:"the enrolled speaker name, case-insensitive"`
}

type removeSpeakerResult struct {
	Name    string `json:"name"`
	Removed bool   `json:"removed"`
}

type extractArgs struct {
	Text string `json:"text" jsonschema:"a transcript to parse into a game command"`
}

type extractResult struct {
	Command    string  `json:"command"`
	Confidence float64 `json:"confidence"`
	Stage      string  `json:"stage"`
	RawText    string  `json:"raw_text"`
}

// NewMCPServer exposes s as MCP tools: list_speakers, remove_speaker and
// extract_command. Serve it with [mcpsdk.Server.Run] over any transport.
func NewMCPServer(s *Service, version string) *mcpsdk.Server {
	srv := mcpsdk.NewServer(&mcpsdk.Implementation{Name: "gamevox-admin", Version: version}, nil)

	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        "list_speakers",
		Description: "List enrolled speakers in enrollment order.",
	}, func(ctx context.Context, _ *mcpsdk.CallToolRequest, _ listSpeakersArgs) (*mcpsdk.CallToolResult, listSpeakersResult, error) {
		ps, err := s.Speakers(ctx)
		if err != nil {
			return nil, listSpeakersResult{}, err
		}
		out := listSpeakersResult{Speakers: make([]SpeakerInfo, 0, len(ps))}
		for _, p := range ps {
			out.Speakers = append(out.Speakers, speakerInfo(p))
		}
		return nil, out, nil
	})

	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        "remove_speaker",
		Description: "Delete an enrolled speaker profile. Reports removed=false for unknown names.",
	}, func(ctx context.Context, _ *mcpsdk.CallToolRequest, args removeSpeakerArgs) (*mcpsdk.CallToolResult, removeSpeakerResult, error) {
		err := s.RemoveSpeaker(ctx, args.Name)
		switch {
		case errors.Is(err, speaker.ErrNotFound):
			return nil, removeSpeakerResult{Name: args.Name}, nil
		case err != nil:
			return nil, removeSpeakerResult{}, err
		}
		return nil, removeSpeakerResult{Name: args.Name, Removed: true}, nil
	})

	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        "extract_command",
		Description: "Parse a transcript into one vocabulary command. Returns an empty command when none matches.",
	}, func(ctx context.Context, _ *mcpsdk.CallToolRequest, args extractArgs) (*mcpsdk.CallToolResult, extractResult, error) {
		p, err := s.Extract(ctx, args.Text)
		if err != nil {
			return nil, extractResult{}, err
		}
		return nil, extractResult{
			Command:    p.Command,
			Confidence: p.Confidence,
			Stage:      p.Stage.String(),
			RawText:    p.RawText,
		}, nil
	})

	return srv
}

func speakerInfo(p speaker.Profile) SpeakerInfo {
	return SpeakerInfo{
		ID:         p.ID,
		Name:       p.Name,
		EnrolledAt: p.CreatedAt.UTC().Format(time.RFC3339),
		Dimensions: len(p.Embedding),
	}
}
