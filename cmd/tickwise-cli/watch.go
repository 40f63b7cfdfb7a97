package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math"
	"strings"
	"time"

	alpacaapi "github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"tickwise/internal/dashboard"
	"tickwise/pkg/tickwise"
)

const watchlistName = "tickwise"

// Styles.
var (
	headerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("4"))
	footerStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("15")).Background(lipgloss.Color("8"))
	sectionStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("0")).Background(lipgloss.Color("6"))
	tickerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	tickerHlStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("75"))
	tickerWlStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("208")) // watchlist
	gainStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	lossStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	colHeaderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

type runMsg tickwise.StreamMessage
type streamErrMsg struct{ err error }
type runStartedMsg struct {
	resp *tickwise.RunResponse
	err  error
}
type picksMsg struct {
	recs []tickwise.Recommendation
	err  error
}
type tickMsg time.Time

type watchlistLoadedMsg struct {
	id      string
	symbols map[string]bool
	err     error
}

type watchlistToggleMsg struct {
	symbol string
	added  bool
	err    error
}

// watcher is the subset of the API client the model drives.
type watcher interface {
	Run(ctx context.Context, params *tickwise.Params) (*tickwise.RunResponse, error)
	Recommendations(ctx context.Context, side string, top int) ([]tickwise.Recommendation, error)
}

type model struct {
	ctx    context.Context
	cancel context.CancelFunc
	client watcher
	stream *tickwise.Stream
	server string
	n      int

	run      *tickwise.Run
	received int
	running  bool
	picks    []tickwise.Recommendation
	selected int
	status   string

	alpacaClient     *alpacaapi.Client // nil without API keys
	watchlistID      string
	watchlistSymbols map[string]bool

	viewport      viewport.Model
	ready         bool
	width, height int
}

func initialModel(ctx context.Context, cancel context.CancelFunc, client watcher, stream *tickwise.Stream, server string, n int, ac *alpacaapi.Client) model {
	return model{
		ctx:              ctx,
		cancel:           cancel,
		client:           client,
		stream:           stream,
		server:           server,
		n:                n,
		alpacaClient:     ac,
		watchlistSymbols: make(map[string]bool),
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Minute, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) waitForRun() tea.Cmd {
	if m.stream == nil {
		return nil
	}
	ctx, stream := m.ctx, m.stream
	return func() tea.Msg {
		msg, err := stream.Next(ctx)
		if err != nil {
			return streamErrMsg{err: err}
		}
		return runMsg(msg)
	}
}

func (m model) loadPicks() tea.Cmd {
	ctx, client, n := m.ctx, m.client, m.n
	return func() tea.Msg {
		recs, err := client.Recommendations(ctx, "buy", n)
		return picksMsg{recs: recs, err: err}
	}
}

func (m model) startRun() tea.Cmd {
	ctx, client := m.ctx, m.client
	return func() tea.Msg {
		resp, err := client.Run(ctx, nil)
		return runStartedMsg{resp: resp, err: err}
	}
}

func (m model) Init() tea.Cmd {
	cmds := []tea.Cmd{tickCmd(), m.waitForRun(), m.loadPicks()}
	if m.alpacaClient != nil {
		ac := m.alpacaClient
		cmds = append(cmds, func() tea.Msg {
			return loadWatchlist(ac)
		})
	}
	return tea.Batch(cmds...)
}

// loadWatchlist gets or creates the "tickwise" watchlist and returns its
// symbols.
func loadWatchlist(ac *alpacaapi.Client) watchlistLoadedMsg {
	lists, err := ac.GetWatchlists()
	if err != nil {
		return watchlistLoadedMsg{err: err}
	}
	for _, w := range lists {
		if w.Name == watchlistName {
			// GetWatchlists doesn't include assets.
			full, err := ac.GetWatchlist(w.ID)
			if err != nil {
				return watchlistLoadedMsg{err: err}
			}
			syms := make(map[string]bool, len(full.Assets))
			for _, a := range full.Assets {
				syms[a.Symbol] = true
			}
			return watchlistLoadedMsg{id: w.ID, symbols: syms}
		}
	}
	w, err := ac.CreateWatchlist(alpacaapi.CreateWatchlistRequest{Name: watchlistName})
	if err != nil {
		return watchlistLoadedMsg{err: err}
	}
	return watchlistLoadedMsg{id: w.ID, symbols: make(map[string]bool)}
}

func (m model) toggleWatchlist() (model, tea.Cmd) {
	if m.alpacaClient == nil || m.watchlistID == "" || m.selected >= len(m.picks) {
		return m, nil
	}
	sym := m.picks[m.selected].Ticker
	ac, wlID := m.alpacaClient, m.watchlistID
	if m.watchlistSymbols[sym] {
		delete(m.watchlistSymbols, sym)
		return m, func() tea.Msg {
			err := ac.RemoveSymbolFromWatchlist(wlID, alpacaapi.RemoveSymbolFromWatchlistRequest{Symbol: sym})
			return watchlistToggleMsg{symbol: sym, added: false, err: err}
		}
	}
	m.watchlistSymbols[sym] = true
	return m, func() tea.Msg {
		_, err := ac.AddSymbolToWatchlist(wlID, alpacaapi.AddSymbolToWatchlistRequest{Symbol: sym})
		return watchlistToggleMsg{symbol: sym, added: true, err: err}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.cancel()
			return m, tea.Quit
		case "r":
			if m.running {
				return m, nil
			}
			m.running = true
			m.status = "backtest running..."
			m.refresh()
			return m, m.startRun()
		case "p":
			return m, m.loadPicks()
		case "up":
			if m.selected > 0 {
				m.selected--
			}
			m.refresh()
			return m, nil
		case "down":
			if m.selected < len(m.picks)-1 {
				m.selected++
			}
			m.refresh()
			return m, nil
		case " ":
			m, cmd = m.toggleWatchlist()
			m.refresh()
			return m, cmd
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		vpHeight := max(1, m.height-2)
		if !m.ready {
			m.viewport = viewport.New(m.width, vpHeight)
			m.viewport.MouseWheelEnabled = true
			m.ready = true
		} else {
			m.viewport.Width = m.width
			m.viewport.Height = vpHeight
		}
		m.refresh()
		return m, nil

	case runMsg:
		run := msg.Run
		m.run = &run
		m.received++
		m.status = fmt.Sprintf("run %d received %s", run.Generation, time.Now().Format("15:04:05"))
		m.refresh()
		return m, tea.Batch(m.waitForRun(), m.loadPicks())

	case streamErrMsg:
		if errors.Is(msg.err, context.Canceled) {
			return m, nil
		}
		m.status = "stream closed: " + msg.err.Error()
		m.stream = nil
		m.refresh()
		return m, nil

	case runStartedMsg:
		m.running = false
		switch {
		case msg.err != nil:
			m.status = "backtest failed: " + msg.err.Error()
		case msg.resp.Stale:
			m.status = fmt.Sprintf("run %d superseded", msg.resp.Generation)
		case m.stream == nil && msg.resp.Result != nil:
			// Without a stream the response is the only copy of the run.
			m.run = &tickwise.Run{ID: msg.resp.RunID, Generation: msg.resp.Generation, Result: msg.resp.Result}
			m.status = fmt.Sprintf("run %d finished", msg.resp.Generation)
		}
		m.refresh()
		return m, nil

	case picksMsg:
		if msg.err != nil {
			m.status = "picks: " + msg.err.Error()
		} else {
			m.picks = msg.recs
			if m.selected >= len(m.picks) {
				m.selected = max(0, len(m.picks)-1)
			}
		}
		m.refresh()
		return m, nil

	case tickMsg:
		return m, tea.Batch(tickCmd(), m.loadPicks())

	case watchlistLoadedMsg:
		if msg.err != nil {
			m.status = "watchlist: " + msg.err.Error()
		} else {
			m.watchlistID = msg.id
			m.watchlistSymbols = msg.symbols
		}
		m.refresh()
		return m, nil

	case watchlistToggleMsg:
		if msg.err != nil {
			// Revert the optimistic toggle.
			if msg.added {
				delete(m.watchlistSymbols, msg.symbol)
			} else {
				m.watchlistSymbols[msg.symbol] = true
			}
			m.status = "watchlist: " + msg.err.Error()
			m.refresh()
		}
		return m, nil
	}

	if m.ready {
		m.viewport, cmd = m.viewport.Update(msg)
	}
	return m, cmd
}

func (m *model) refresh() {
	if m.ready {
		m.viewport.SetContent(m.renderContent())
	}
}

func (m model) View() string {
	if !m.ready {
		return "Connecting..."
	}

	gen := "-"
	if m.run != nil {
		gen = fmt.Sprintf("%d", m.run.Generation)
	}
	headerText := fmt.Sprintf(" tickwise  %s    run: %s    received: %s    %s ",
		m.server, gen, dashboard.FormatInt(m.received), m.status)
	headerBar := headerStyle.Render(padOrTrunc(headerText, m.width))

	footerLeft := " q quit  r run  p picks  up/dn select  space watch  pgup/dn scroll"
	footerRight := fmt.Sprintf("%.0f%% ", m.viewport.ScrollPercent()*100)
	gap := max(0, m.width-len(footerLeft)-len(footerRight))
	footerBar := footerStyle.Render(padOrTrunc(footerLeft+strings.Repeat(" ", gap)+footerRight, m.width))

	return headerBar + "\n" + m.viewport.View() + "\n" + footerBar
}

func (m model) renderContent() string {
	var b strings.Builder
	renderRun(&b, m.run, m.width)
	b.WriteString("\n")
	renderPicks(&b, m.picks, m.selected, m.watchlistSymbols, m.width)
	return b.String()
}

func renderRun(b *strings.Builder, run *tickwise.Run, width int) {
	b.WriteString(sectionStyle.Render(padOrTrunc(" Latest backtest", width)))
	b.WriteString("\n")
	if run == nil || run.Result == nil {
		b.WriteString(dimStyle.Render("  No backtest has completed. Press r to start one."))
		b.WriteString("\n")
		return
	}
	r := run.Result
	if r.Sample == 0 {
		b.WriteString(dimStyle.Render(fmt.Sprintf("  Run %d: not enough data to simulate any chain.", run.Generation)))
		b.WriteString("\n")
		return
	}
	fmt.Fprintf(b, "  anchor %s  lookback %dd  top-%d  chains %s\n",
		r.AnchorDate, r.LookbackDays, r.TopK, dashboard.FormatInt(r.Sample))
	fmt.Fprintf(b, "  avg %s  median %s  std %s  win rate %s%%  max drawdown %s\n",
		pctStyled(r.Avg), pctStyled(r.Median), dashboard.FormatNum(r.StdDev, 2),
		dashboard.FormatNum(r.WinRate, 1), drawdownStyled(r.MaxDrawdown))

	if len(r.DetailRows) == 0 {
		return
	}
	b.WriteString("\n")
	b.WriteString(colHeaderStyle.Render(fmt.Sprintf("  %-5s %-3s %-8s %-10s %9s %-10s %9s %8s  %s",
		"CHAIN", "LEG", "TICKER", "BUY", "PRICE", "SELL", "PRICE", "RETURN", "EXIT")))
	b.WriteString("\n")
	for _, d := range r.DetailRows {
		exit := d.ExitRule
		if d.Holding {
			exit = "holding"
		}
		fmt.Fprintf(b, "  %-5d %-3d %s %-10s %9s %-10s %9s %s  %s\n",
			d.ChainID, d.Leg, tickerStyle.Render(padOrTrunc(d.Ticker, 8)),
			d.BuyDate, dashboard.FormatPrice(d.BuyPrice),
			d.SellDate, dashboard.FormatPrice(d.SellPrice),
			pctStyled(d.ReturnPct), exit)
	}
}

func renderPicks(b *strings.Builder, picks []tickwise.Recommendation, selected int, watchlist map[string]bool, width int) {
	b.WriteString(sectionStyle.Render(padOrTrunc(" Top buys", width)))
	b.WriteString("\n")
	if len(picks) == 0 {
		b.WriteString(dimStyle.Render("  (none)"))
		b.WriteString("\n")
		return
	}
	b.WriteString(colHeaderStyle.Render(fmt.Sprintf("  %-8s %6s %6s %6s %9s %15s %10s  %s",
		"TICKER", "SCORE", "TECH", "FUND", "CLOSE", "AI 1M", "ANALYST", "COMPANY")))
	b.WriteString("\n")
	for i, p := range picks {
		style := tickerStyle
		switch {
		case i == selected:
			style = tickerHlStyle
		case watchlist[p.Ticker]:
			style = tickerWlStyle
		}
		marker := "  "
		if watchlist[p.Ticker] {
			marker = "* "
		}
		ai := dashboard.FormatPct(val(p.AI1MLowerPct)) + ".." + dashboard.FormatPct(val(p.AI1MUpperPct))
		fmt.Fprintf(b, "%s%s %6s %6s %6s %9s %15s %10s  %s\n",
			marker, style.Render(padOrTrunc(p.Ticker, 8)),
			dashboard.FormatNum(val(p.TickwiseScore), 1),
			dashboard.FormatNum(val(p.Technical), 1),
			dashboard.FormatNum(val(p.FundamentalScore), 1),
			dashboard.FormatPrice(val(p.Close)),
			ai,
			dashboard.FormatPct(val(p.Analyst1YPct)),
			p.Company)
	}
}

func pctStyled(v float64) string {
	s := fmt.Sprintf("%8s", dashboard.FormatPct(v))
	switch {
	case v > 0:
		return gainStyle.Render(s)
	case v < 0:
		return lossStyle.Render(s)
	}
	return s
}

func drawdownStyled(v float64) string {
	s := dashboard.FormatDrawdown(v)
	if v > 0 {
		return lossStyle.Render(s)
	}
	return s
}

// val dereferences an optional score; nil is NaN.
func val(p *float64) float64 {
	if p == nil {
		return math.NaN()
	}
	return *p
}

func padOrTrunc(s string, width int) string {
	if width <= 0 {
		return s
	}
	if len(s) > width {
		return s[:width]
	}
	return s + strings.Repeat(" ", width-len(s))
}

func runWatch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	cfgPath := fs.String("config", "", "config file, read for Alpaca watchlist credentials")
	server := fs.String("server", "http://localhost:8080", "tickwise-server base URL")
	n := fs.Int("n", 15, "buy picks to show")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, _, err := loadConfig(*cfgPath, false)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	client := tickwise.NewClient(*server)
	stream, err := client.Stream(ctx)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", *server, err)
	}
	defer stream.Close()

	var ac *alpacaapi.Client
	if cfg.Alpaca.APIKey != "" && cfg.Alpaca.APISecret != "" {
		ac = alpacaapi.NewClient(alpacaapi.ClientOpts{
			APIKey:    cfg.Alpaca.APIKey,
			APISecret: cfg.Alpaca.APISecret,
		})
	}

	p := tea.NewProgram(
		initialModel(ctx, cancel, client, stream, *server, *n, ac),
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
	)
	_, err = p.Run()
	return err
}
