package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/log"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"node.town/voxrelay/config"
	"node.town/voxrelay/db"
	"node.town/voxrelay/etc"
	"node.town/voxrelay/llm"
)

var conversationsCmd = &cobra.Command{
	Use:   "conversations",
	Short: "List archived conversations in a table",
	Run:   runConversations,
}

var historyCmd = &cobra.Command{
	Use:   "history <sessionID>",
	Short: "Print the archived turns of one conversation",
	Args:  cobra.ExactArgs(1),
	Run:   runHistory,
}

var summarizeCmd = &cobra.Command{
	Use:   "summarize <sessionID>",
	Short: "Summarize an archived conversation with the language model",
	Args:  cobra.ExactArgs(1),
	Run:   runSummarize,
}

var forgetCmd = &cobra.Command{
	Use:   "forget <sessionID>",
	Short: "Delete an archived conversation and its turns",
	Args:  cobra.ExactArgs(1),
	Run:   runForget,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations, asking before each one",
	Run:   runMigrate,
}

func init() {
	conversationsCmd.Flags().IntP("limit", "n", 20, "Number of conversations to show")
}

func openArchive(ctx context.Context) (*db.Archive, *db.Queries, func(), *log.Logger) {
	mainLogger, _, _, sqlLogger := createLoggers()

	url := viper.GetString("database_url")
	if url == "" {
		mainLogger.Fatal("missing DATABASE_URL or --database-url=")
	}
	pool, queries, err := db.OpenDatabase(ctx, url, sqlLogger)
	if err != nil {
		mainLogger.Fatal("open database", "error", err.Error())
	}
	return db.NewArchive(pool, sqlLogger), queries, pool.Close, mainLogger
}

func newTable(header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader(header)
	table.SetBorder(false)
	table.SetCenterSeparator("|")
	table.SetColumnSeparator("|")
	table.SetRowSeparator("-")
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	return table
}

func runConversations(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	archive, _, closeDB, mainLogger := openArchive(ctx)
	defer closeDB()

	limit, _ := cmd.Flags().GetInt("limit")
	convs, err := archive.ListConversations(ctx, limit)
	if err != nil {
		mainLogger.Fatal("list conversations", "error", err.Error())
	}
	if len(convs) == 0 {
		fmt.Println("No conversations found.")
		return
	}

	table := newTable("Session", "Mode", "Started", "Last Turn", "Turns")
	for _, c := range convs {
		table.Append([]string{
			c.ID,
			c.Mode,
			c.StartedAt.Local().Format("2006-01-02 15:04:05"),
			c.LastTurnAt.Local().Format("2006-01-02 15:04:05"),
			fmt.Sprintf("%d", c.TurnCount),
		})
	}
	table.Render()
}

func runHistory(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	archive, _, closeDB, mainLogger := openArchive(ctx)
	defer closeDB()

	turns, err := archive.ListTurns(ctx, args[0])
	if err != nil {
		mainLogger.Fatal("list turns", "error", err.Error())
	}
	if len(turns) == 0 {
		fmt.Println("No turns found.")
		return
	}

	table := newTable("Time", "Role", "Text")
	for _, t := range turns {
		table.Append([]string{
			t.CreatedAt.Local().Format("15:04:05"),
			t.Role,
			etc.Ellipsize(t.Content, 100),
		})
	}
	table.Render()
}

func runForget(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	archive, _, closeDB, mainLogger := openArchive(ctx)
	defer closeDB()

	deleted, err := archive.DeleteConversation(ctx, args[0])
	if err != nil {
		mainLogger.Fatal("delete conversation", "error", err.Error())
	}
	if !deleted {
		mainLogger.Warn("no such conversation", "session", args[0])
		return
	}
	mainLogger.Info("deleted", "session", args[0])
}

const summaryPrompt = "You are an AI assistant tasked with summarizing and explaining conversations. " +
	"Please analyze the following voice chat transcript and provide a concise summary of the main topics discussed, " +
	"key points made, and any important decisions or actions mentioned. Answer in Markdown."

func runSummarize(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	archive, _, closeDB, mainLogger := openArchive(ctx)
	defer closeDB()

	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		mainLogger.Fatal("load config", "error", err.Error())
	}

	turns, err := archive.ListTurns(ctx, args[0])
	if err != nil {
		mainLogger.Fatal("list turns", "error", err.Error())
	}
	if len(turns) == 0 {
		mainLogger.Info("no turns found", "session", args[0])
		return
	}

	var transcript strings.Builder
	for _, t := range turns {
		fmt.Fprintf(&transcript, "%s %s: %s\n", t.CreatedAt.Format("15:04:05"), t.Role, t.Content)
	}

	model, closer, err := newLanguageModel(ctx, cfg)
	if err != nil {
		mainLogger.Fatal("create language model", "error", err.Error())
	}
	if closer != nil {
		defer closer()
	}

	req := (&llm.ChatCompletionRequest{}).
		WithMessage(llm.RoleSystem, summaryPrompt).
		WithMessage(llm.RoleUser, transcript.String())
	stream, err := model.ChatCompletion(ctx, req)
	if err != nil {
		mainLogger.Fatal("failed to start summary generation", "error", err.Error())
	}

	var summary strings.Builder
	for resp := range stream {
		if resp.Err != nil {
			mainLogger.Fatal("summary stream failed", "error", resp.Err.Error())
		}
		summary.WriteString(resp.Content)
	}

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(72),
	)
	if err != nil {
		mainLogger.Fatal("failed to create renderer", "error", err.Error())
	}
	rendered, err := renderer.Render(summary.String())
	if err != nil {
		fmt.Println(summary.String())
		return
	}
	fmt.Print(rendered)
}

func runMigrate(cmd *cobra.Command, args []string) {
	mainLogger, _, _, sqlLogger := createLoggers()
	ctx := context.Background()

	url := viper.GetString("database_url")
	if url == "" {
		mainLogger.Fatal("missing DATABASE_URL or --database-url=")
	}

	pool, err := db.Connect(ctx, url)
	if err != nil {
		mainLogger.Fatal("open database", "error", err.Error())
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool, sqlLogger, db.ConfirmInteractively); err != nil {
		mainLogger.Fatal("migrate", "error", err.Error())
	}
	mainLogger.Info("migration process completed")
}
