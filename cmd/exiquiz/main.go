package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dchstudio/exiquiz/internal/gallery"
	"github.com/dchstudio/exiquiz/internal/handler"
	appI18n "github.com/dchstudio/exiquiz/internal/i18n"
	"github.com/dchstudio/exiquiz/internal/llm"
	"github.com/dchstudio/exiquiz/internal/metadata"
	"github.com/dchstudio/exiquiz/internal/model"
	"github.com/dchstudio/exiquiz/internal/quiz"
	"github.com/dchstudio/exiquiz/internal/store"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "exiquiz",
		Short: "Image quiz server that asks an LLM about embedded image captions",
	}

	serve := serveCmd()
	root.AddCommand(serve, tagCmd(), exportCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `exiquiz --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP quiz server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("db", "exiquiz.db", "SQLite database path")
	f.StringP("images", "i", "images", "Directory holding the quiz images")
	f.String("llm-mode", "cli", "LLM transport (cli, api)")
	f.String("llm-binary", "ollama", "Model-runner binary for cli mode")
	f.String("llm-model", "llama3.1", "LLM model name")
	f.String("llm-url", "http://localhost:11434/v1", "OpenAI-compatible API base URL for api mode")
	f.String("llm-key", "ollama", "API key for api mode")
	f.Duration("llm-timeout", 0, "Per-call model timeout (0 = default 60s)")
	f.String("exiftool", "exiftool", "Path to the exiftool binary")
	f.StringP("lang", "l", "en", "UI language (en, de)")
	f.Bool("secure-cookies", true, "Set Secure flag on session cookies")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func tagCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tag",
		Short: "Write metadata fields into images from a batch file",
		Long: `Reads a pipe-delimited batch file where each line is
image file name followed by Key=Value pairs, e.g.

    sunset.png|Description=A harbor at dusk|Author=Jane

and writes the fields into the named images.`,
		RunE: runTag,
	}
	f := cmd.Flags()
	f.StringP("batch", "b", "metadata.txt", "Batch file with metadata assignments")
	f.StringP("images", "i", "images", "Directory holding the images")
	f.String("exiftool", "exiftool", "Path to the exiftool binary")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export evaluation results as JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.String("db", "exiquiz.db", "SQLite database path")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("EXIQUIZ")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("exiquiz")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/exiquiz")
	v.AddConfigPath("/etc/exiquiz")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := db.CleanupExpiredSessions(); err != nil {
		slog.Warn("cleaning up expired sessions failed", "error", err)
	}

	imageDir := v.GetString("images")
	g, err := gallery.New(imageDir)
	if err != nil {
		return fmt.Errorf("load image gallery: %w", err)
	}
	if g.Len() == 0 {
		slog.Warn("image directory is empty", "dir", imageDir)
	}

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	llmClient, err := llm.New(llm.Config{
		Mode:    llm.Mode(strings.ToLower(v.GetString("llm-mode"))),
		Model:   v.GetString("llm-model"),
		Binary:  v.GetString("llm-binary"),
		BaseURL: v.GetString("llm-url"),
		APIKey:  v.GetString("llm-key"),
		Timeout: v.GetDuration("llm-timeout"),
	})
	if err != nil {
		return fmt.Errorf("create LLM client: %w", err)
	}
	if api, ok := llmClient.(*llm.APIClient); ok {
		if err := api.Ping(context.Background()); err != nil {
			return fmt.Errorf("LLM health check: %w", err)
		}
		slog.Info("LLM endpoint OK", "url", v.GetString("llm-url"), "model", v.GetString("llm-model"))
	}

	extractor := metadata.NewExtractor(v.GetString("exiftool"))
	svc := quiz.New(g, extractor, llmClient, db)

	cfg := model.QuizConfig{
		ImageDir:      imageDir,
		SecureCookies: v.GetBool("secure-cookies"),
	}
	h := handler.New(db, svc, g, cfg)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware(lang))
	h.Routes(r)

	addr := v.GetString("addr")
	slog.Info("starting server",
		"addr", addr,
		"images", imageDir,
		"image_count", g.Len(),
		"llm_mode", v.GetString("llm-mode"),
		"model", v.GetString("llm-model"),
		"lang", lang,
	)
	return http.ListenAndServe(addr, r)
}

func runTag(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	batchPath := v.GetString("batch")
	entries, err := metadata.ParseBatchFile(batchPath)
	if err != nil {
		return fmt.Errorf("parse batch file: %w", err)
	}
	if len(entries) == 0 {
		slog.Warn("batch file contains no usable entries", "path", batchPath)
		return nil
	}

	w := metadata.NewWriter(v.GetString("exiftool"))
	applied := metadata.ApplyBatch(cmd.Context(), w, entries, v.GetString("images"))
	slog.Info("batch tagging finished", "entries", len(entries), "applied", applied)

	if applied < len(entries) {
		return fmt.Errorf("%d of %d entries failed", len(entries)-applied, len(entries))
	}
	return nil
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	recs, err := db.ListEvaluations()
	if err != nil {
		return fmt.Errorf("list evaluations: %w", err)
	}

	data, err := json.MarshalIndent(recs, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	// Ensure trailing newline.
	_, _ = fmt.Fprintln(w)

	return nil
}
