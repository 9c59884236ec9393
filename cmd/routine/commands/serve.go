package commands

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"net"
	"net/http"
	"time"

	"routine-desk/internal/batch"
	"routine-desk/internal/cortex"
	"routine-desk/internal/journal"
	"routine-desk/internal/report"
	"routine-desk/internal/roster"
	"routine-desk/lib/osutil"
	"routine-desk/lib/telemetry"

	"github.com/spf13/cobra"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

var servePort *int

func init() {
	servePort = serveCmd.Flags().IntP("port", "p", 8501, "The port the dashboard listens on.")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve [--port N]",
	Short: "Serves an HTML dashboard on localhost: /cortex?stations=A,B and /roster?stations=A,B.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		err := cfg.RequireLogistics()
		if err != nil {
			osutil.Fatal("cannot serve", err)
		}

		a := newApp()
		defer a.close()
		j := openJournal(ctx)
		defer j.Close()

		mux := http.NewServeMux()
		mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
			writePage(w, http.StatusOK, "routine", "")
		})
		mux.Handle("GET /cortex", dashboard(a, j, func(r *http.Request) batch.Fetcher[cortex.Row] {
			return a.cortexFetcher(r.URL.Query().Get("flex_only") == "true")
		}, func(rows []cortex.Row) report.Table {
			return report.CortexTable(rows)
		}))
		mux.Handle("GET /roster", dashboard(a, j, func(r *http.Request) batch.Fetcher[roster.Row] {
			return a.rosterFetcher()
		}, func(rows []roster.Row) report.Table {
			return report.RosterTable(rows)
		}))

		telemetry.InstrumentPerfStats(ctx, 30*time.Second)

		server := &http.Server{
			Addr:    fmt.Sprintf("127.0.0.1:%d", *servePort),
			Handler: h2c.NewHandler(mux, &http2.Server{}),
			BaseContext: func(_ net.Listener) context.Context {
				return ctx
			},
		}
		stop := context.AfterFunc(ctx, func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			server.Shutdown(shutdownCtx)
		})
		defer stop()

		slog.Info("serving dashboard", "url", fmt.Sprintf("http://%s/", server.Addr))
		err = server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			osutil.Fatal(fmt.Sprintf("failed to listen on port %d", *servePort), err)
		}
	},
}

func dashboard[R any](a app, j journal.Journal, fetcher func(r *http.Request) batch.Fetcher[R], tabulate func([]R) report.Table) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f := fetcher(r)
		input := r.URL.Query().Get("stations")
		codes := batch.Dedupe(batch.SplitCodes(input))
		if len(codes) == 0 {
			writePage(w, http.StatusBadRequest, f.Kind(), "<p>no stations given</p>")
			return
		}

		result, err := runAndRecord(r.Context(), j, a, f, 0, nil, codes)
		if err != nil {
			writePage(w, http.StatusBadGateway, f.Kind(), fmt.Sprintf("<p>%s</p>", html.EscapeString(err.Error())))
			return
		}

		var body bytes.Buffer
		summary := report.Summarize(result)
		for _, warning := range summary.Warnings() {
			fmt.Fprintf(&body, "<p class=\"warning\">%s</p>\n", html.EscapeString(warning))
		}
		err = summary.Table().Render(&body, report.FormatHtml)
		if err == nil {
			rows := report.Combine(result.Tables())
			fmt.Fprintf(&body, "<h3>%d rows</h3>\n", len(rows))
			if len(rows) > 0 {
				err = tabulate(rows).Render(&body, report.FormatHtml)
			}
		}
		if err != nil {
			writePage(w, http.StatusInternalServerError, f.Kind(), fmt.Sprintf("<p>%s</p>", html.EscapeString(err.Error())))
			return
		}
		writePage(w, http.StatusOK, f.Kind(), body.String())
	}
}

const pageTemplate = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>%s</title>
<style>
body { font-family: sans-serif; margin: 2em; }
table { border-collapse: collapse; margin-bottom: 1em; }
th, td { border: 1px solid #ccc; padding: 0.25em 0.5em; }
.warning { color: #a60; }
</style>
</head>
<body>
<form action="/cortex"><input name="stations" placeholder="DAB1,DAB2"> <button>cortex</button> <button formaction="/roster">roster</button></form>
%s
</body>
</html>
`

func writePage(w http.ResponseWriter, status int, title, body string) {
	w.Header().Set("content-type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprintf(w, pageTemplate, html.EscapeString(title), body)
}
