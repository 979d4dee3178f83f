package journal

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"os"
	"text/template"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/barsim/backtest"
	"github.com/rustyeddy/barsim/metrics"
)

// RunSummary mirrors the runs table.
type RunSummary struct {
	RunID    string
	Created  time.Time
	Symbol   string
	Interval string
	Dataset  string
	Strategy string
	Config   []byte // YAML of the backtest config

	RiskPct float64 // percent of equity per trade

	Start time.Time
	End   time.Time

	StartEquity float64
	FinalEquity float64
	Metrics     metrics.Metrics

	OpenAtEnd bool
	Notes     []string
}

// SummaryFromResult builds the summary of a finished backtest.
func SummaryFromResult(res backtest.Result, cfg backtest.Config, interval, dataset string) (RunSummary, error) {
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return RunSummary{}, fmt.Errorf("encode config: %w", err)
	}
	s := RunSummary{
		Created:     time.Now().UTC(),
		Symbol:      res.Symbol,
		Interval:    interval,
		Dataset:     dataset,
		Strategy:    res.Strategy,
		Config:      raw,
		RiskPct:     cfg.RiskPct,
		Start:       res.Start,
		End:         res.End,
		StartEquity: res.StartEquity,
		FinalEquity: res.FinalEquity,
		Metrics:     res.Metrics,
		OpenAtEnd:   res.OpenAtEnd,
	}
	if res.OpenAtEnd {
		s.Notes = append(s.Notes, "position still open at end of data")
	}
	for _, k := range res.Diagnostics.RejectionReasons() {
		s.Notes = append(s.Notes, fmt.Sprintf("rejected %s: %d", k, res.Diagnostics.Rejections[k]))
	}
	return s, nil
}

func (s RunSummary) NetPnL() float64 { return s.FinalEquity - s.StartEquity }

var orgFuncs = template.FuncMap{
	"pct": func(x float64) string { return fmtNum(x*100, 2) },
	"num": fmtNum,
	"orTime": func(t time.Time) time.Time {
		if t.IsZero() {
			return time.Now()
		}
		return t
	},
}

func fmtNum(x float64, prec int) string {
	if math.IsInf(x, 1) {
		return "Inf"
	}
	if math.IsInf(x, -1) {
		return "-Inf"
	}
	return fmt.Sprintf("%.*f", prec, x)
}

var orgTemplate = template.Must(template.New("run").Funcs(orgFuncs).Parse(RunOrgTemplate))

// WriteOrg renders s as an Org-mode heading.
func (s RunSummary) WriteOrg(w io.Writer) error {
	return orgTemplate.Execute(w, s)
}

// WriteOrgFile writes the Org report of s to path.
func (s RunSummary) WriteOrgFile(path string) error {
	var buf bytes.Buffer
	if err := s.WriteOrg(&buf); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

const RunOrgTemplate = `* BACKTEST: {{.Strategy}} {{.Symbol}} {{if .Interval}}{{.Interval}}{{else}}(interval?){{end}}
:PROPERTIES:
:RUN_ID:      {{if .RunID}}{{.RunID}}{{else}}(run-id?){{end}}
:STRATEGY:    {{.Strategy}}
:INTERVAL:    {{if .Interval}}{{.Interval}}{{else}}(interval?){{end}}
:SYMBOL:      {{.Symbol}}
:DATASET:     {{if .Dataset}}{{.Dataset}}{{else}}(dataset?){{end}}
:START_DATE:  {{.Start.Format "2006-01-02"}}
:END_DATE:    {{.End.Format "2006-01-02"}}
:START_EQ:    {{printf "%.2f" .StartEquity}}
:END_EQ:      {{printf "%.2f" .FinalEquity}}
:NET_PL:      {{printf "%.2f" .NetPnL}}
:RETURN_PCT:  {{pct .Metrics.ReturnPct}}
:MAX_DD_PCT:  {{pct .Metrics.MaxDrawdownPct}}
:TRADES:      {{.Metrics.Trades}}
:LEGS:        {{.Metrics.Legs}}
:WIN_RATE:    {{pct .Metrics.WinRate}}
:PROFIT_FAC:  {{num .Metrics.ProfitFactor 2}}
:CREATED:     [{{(orTime .Created).Format "2006-01-02 Mon 15:04"}}]
:END:

** Parameters
| Parameter        | Value |
|------------------+-------|
| Risk per Trade % | {{printf "%.2f" .RiskPct}} |
{{- if .Config}}
#+begin_src yaml
{{printf "%s" .Config}}#+end_src
{{- end}}

** Performance Summary
- Net P/L:        *{{printf "%.2f" .NetPnL}}*
- Return:         *{{pct .Metrics.ReturnPct}}%*
- Max Drawdown:   *{{pct .Metrics.MaxDrawdownPct}}%*
- Calmar:         *{{num .Metrics.Calmar 2}}*
- Win Rate:       *{{pct .Metrics.WinRate}}%*
- Profit Factor:  *{{num .Metrics.ProfitFactor 2}}*
- Expectancy:     *{{num .Metrics.Expectancy 2}} /trade*
- Avg R:          *{{num .Metrics.AvgR 3}}*
- Total R:        *{{num .Metrics.TotalR 3}}*
- Sharpe (daily): *{{num .Metrics.SharpeDaily 3}}*
- Exposure:       *{{pct .Metrics.ExposurePct}}%*

** Trade Distribution
| Metric           | Value |
|------------------+-------|
| Trades           | {{.Metrics.Trades}} |
| Legs             | {{.Metrics.Legs}} |
| Max consec wins  | {{.Metrics.MaxConsecWins}} |
| Max consec losses| {{.Metrics.MaxConsecLosses}} |
| Avg hold (min)   | {{num .Metrics.AvgHoldMin 1}} |

{{- if .Notes }}

** Observations
{{- range .Notes }}
- {{.}}
{{- end }}
{{- end }}
`
