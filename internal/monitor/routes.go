package monitor

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"tailscale.com/tsweb"

	"github.com/banshee-data/beamalign/internal/httputil"
	"github.com/banshee-data/beamalign/internal/mount"
)

//go:embed templates/*
var templateFS embed.FS

var mountCommandTemplate = template.Must(template.ParseFS(templateFS, "templates/mount-command.html.tmpl"))

// consoleTimeout bounds one console exchange including retries.
const consoleTimeout = 5 * time.Second

// CommandResult is the JSON answer of the mount console.
type CommandResult struct {
	Command  string `json:"command"`
	Status   string `json:"status"`
	Payload  string `json:"payload,omitempty"`
	Raw      string `json:"raw,omitempty"`
	Attempts int    `json:"attempts"`
	Error    string `json:"error,omitempty"`
}

// AttachAdminRoutes mounts the live scan pages under /debug/. The mount
// console is mounted only when both sender and mover are set.
func (l *Live) AttachAdminRoutes(mux *http.ServeMux, sender mount.Sender, mover Mover) {
	debug := tsweb.Debugger(mux)

	debug.KVFunc("Scan", func() any { return l.Status().String() })
	debug.Handle("scan-map", "Scan map of the current session", http.HandlerFunc(l.handleScanMap))
	debug.HandleSilentFunc("scan-status", l.handleStatus)
	debug.HandleSilentFunc("scan-points", l.handlePoints)
	debug.HandleSilentFunc("tail", l.handleTail)

	if sender == nil || mover == nil {
		return
	}
	debug.HandleFunc("mount-command", "Send a command to the mount", func(w http.ResponseWriter, r *http.Request) {
		buf := bytes.NewBuffer(nil)
		if err := mountCommandTemplate.Execute(buf, nil); err != nil {
			http.Error(w, "Failed to render template", http.StatusInternalServerError)
			return
		}
		io.Copy(w, buf)
	})
	debug.HandleSilentFunc("mount-command-api", func(w http.ResponseWriter, r *http.Request) {
		l.handleMountCommand(w, r, sender, mover)
	})
}

func (l *Live) handleStatus(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, l.Status())
}

func (l *Live) handlePoints(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, l.Points())
}

// handleScanMap renders the kept points as an echarts scatter of axis
// offsets from the seed, coloured by signal.
func (l *Live) handleScanMap(w http.ResponseWriter, r *http.Request) {
	points := l.Points()
	status := l.Status()
	if len(points) == 0 {
		httputil.NotFound(w, "no scan points yet")
		return
	}

	origin := points[0]
	data := make([]opts.ScatterData, 0, len(points))
	maxSignal := 1
	for _, p := range points {
		x := int64(p.Axis1) - int64(origin.Axis1)
		y := int64(p.Axis2) - int64(origin.Axis2)
		data = append(data, opts.ScatterData{Value: []interface{}{x, y, p.Signal}})
		maxSignal = max(maxSignal, p.Signal)
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Alignment scan", Theme: "dark", Width: "900px", Height: "900px"}),
		charts.WithTitleOpts(opts.Title{Title: "Scan " + status.Key, Subtitle: status.String()}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Axis 1 (steps)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Axis 2 (steps)", NameLocation: "middle", NameGap: 30}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        float32(maxSignal),
			Dimension:  "2",
			InRange:    &opts.VisualMapInRange{Color: []string{"#440154", "#3e4989", "#26828e", "#35b779", "#fde725"}},
		}),
	)
	scatter.AddSeries("samples", data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 5}))

	var buf bytes.Buffer
	if err := scatter.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handleTail streams recorded points as server-sent events.
func (l *Live) handleTail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	id, c := l.Subscribe()
	defer l.Unsubscribe(id)

	w.Write([]byte(": ping\n\n"))
	flusher.Flush()

	for {
		select {
		case line, ok := <-c:
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", line); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

// handleMountCommand runs one console request. Raw bodies are limited to
// position and status queries and stop; moves take an axis and a target and
// go through the limit-checked mover. Nothing is sent while a scan owns the
// channel.
func (l *Live) handleMountCommand(w http.ResponseWriter, r *http.Request, sender mount.Sender, mover Mover) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w, http.MethodPost)
		return
	}
	if l.Status().Running {
		httputil.WriteJSONError(w, http.StatusConflict, "scan in progress")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), consoleTimeout)
	defer cancel()

	if target := strings.TrimSpace(r.FormValue("target")); target != "" {
		handleConsoleMove(ctx, w, mover, strings.TrimSpace(r.FormValue("axis")), target)
		return
	}

	command := strings.TrimSpace(r.FormValue("command"))
	if command == "" {
		httputil.BadRequest(w, "missing command")
		return
	}
	switch command[0] {
	case 'j', 'f', 'K':
	case 'S', 'G', 'J':
		httputil.WriteJSONError(w, http.StatusForbidden, "move with axis and target instead of raw S/G/J commands")
		return
	default:
		httputil.BadRequest(w, fmt.Sprintf("unsupported command %q", command))
		return
	}

	resp := sender.Send(ctx, command)
	res := CommandResult{
		Command:  command,
		Status:   resp.Status.String(),
		Payload:  resp.Payload,
		Raw:      strings.TrimSpace(resp.Raw),
		Attempts: resp.Attempts,
	}
	if err := resp.Err(); err != nil {
		res.Error = err.Error()
	}
	httputil.WriteJSONOK(w, res)
}

func handleConsoleMove(ctx context.Context, w http.ResponseWriter, mover Mover, axisText, target string) {
	var axis mount.Axis
	switch axisText {
	case "1":
		axis = mount.Axis1
	case "2":
		axis = mount.Axis2
	default:
		httputil.BadRequest(w, fmt.Sprintf("invalid axis %q", axisText))
		return
	}

	res := CommandResult{Command: fmt.Sprintf("move %s %s", axisText, target), Status: "ok"}
	if err := mover.MoveToHex(ctx, axis, target, false); err != nil {
		res.Status = "rejected"
		res.Error = err.Error()
		httputil.WriteJSON(w, http.StatusUnprocessableEntity, res)
		return
	}
	httputil.WriteJSONOK(w, res)
}
