package cmd

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nfrund/pulse/internal/engagement"
	"github.com/nfrund/pulse/internal/presence"
)

type topicInfo struct {
	Name        string `json:"name"`
	Payload     string `json:"payload"`
	Description string `json:"description"`
}

var knownTopics = []topicInfo{
	{presence.TopicUserOnline.Name(), "presence.Event", "a user gained a canonical connection"},
	{presence.TopicUserOffline.Name(), "presence.Event", "a user's canonical connection went away"},
	{engagement.TopicPostLiked.Name(), "events.Like", "a post received a like"},
	{engagement.TopicPostUnliked.Name(), "events.Like", "a like was withdrawn"},
	{engagement.TopicPostNew.Name(), "domain.Post", "an author announced a new post"},
}

var topicsFormat string

var topicsCmd = &cobra.Command{
	Use:   "topics",
	Short: "List the internal pub/sub topics",
	Long: `List the topics published on the in-process bus.

Output formats:
  table - Human-readable table format (default)
  json  - Machine-readable JSON format`,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		switch topicsFormat {
		case "json":
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(knownTopics)
		case "table":
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TOPIC\tPAYLOAD\tDESCRIPTION")
			for _, t := range knownTopics {
				fmt.Fprintf(w, "%s\t%s\t%s\n", t.Name, t.Payload, t.Description)
			}
			return w.Flush()
		default:
			return fmt.Errorf("invalid format %q, valid formats: table, json", topicsFormat)
		}
	},
}

func init() {
	topicsCmd.Flags().StringVarP(&topicsFormat, "format", "f", "table", "output format (table, json)")
	rootCmd.AddCommand(topicsCmd)
}
