package main

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/MrWong99/gamevox/internal/admin"
)

func newMCPCmd(e *env) *cobra.Command {
	var withLLM bool
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve speaker admin and command extraction as MCP tools on stdio",
		Long: `Run a Model Context Protocol server on stdin/stdout exposing the tools
list_speakers, remove_speaker and extract_command. Point an MCP client at
"gamevoxctl --config FILE mcp" to use them. Logs go to stderr.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg, err := e.speakers(cmd.Context())
			if err != nil {
				return err
			}
			ext, err := e.extractor(nil, withLLM)
			if err != nil {
				return err
			}
			srv := admin.NewMCPServer(admin.New(reg, ext), version)
			return srv.Run(cmd.Context(), &mcp.StdioTransport{})
		},
	}
	cmd.Flags().BoolVar(&withLLM, "llm", false, "enable the configured language model stage in extract_command")
	return cmd
}
