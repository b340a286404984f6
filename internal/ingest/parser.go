package ingest

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"crowdpulse/internal/config"
	"crowdpulse/internal/model"
	"crowdpulse/internal/normalize"
)

var ErrNotJSON = errors.New("payload is not a JSON object or array")

// Parser turns camera payloads into device reports. A payload is one JSON
// object or an array of them; line based sources send one payload per line.
type Parser struct {
	cfg func() config.ParserConfig
	now func() time.Time
}

func NewParser(cfg *config.Manager) *Parser {
	return &Parser{
		cfg: func() config.ParserConfig { return cfg.Get().Ingest.Parser },
		now: time.Now,
	}
}

func NewStaticParser(pc config.ParserConfig) *Parser {
	return &Parser{
		cfg: func() config.ParserConfig { return pc },
		now: time.Now,
	}
}

// Parse decodes data. kind, when set, applies to payloads that do not name
// their own kind. failed counts array elements that could not be normalized;
// err is only set when the payload as a whole is unreadable.
func (p *Parser) Parse(data []byte, source string, kind model.ReportKind) (reports []model.DeviceReport, failed int, err error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, 0, nil
	}
	var raws []normalize.RawReport
	switch data[0] {
	case '[':
		if err := json.Unmarshal(data, &raws); err != nil {
			return nil, 0, fmt.Errorf("decode report list: %w", err)
		}
	case '{':
		var raw normalize.RawReport
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, 0, fmt.Errorf("decode report: %w", err)
		}
		raws = []normalize.RawReport{raw}
	default:
		return nil, 0, ErrNotJSON
	}
	pc := p.cfg()
	now := p.now().UTC()
	for _, raw := range raws {
		if raw.Kind == "" && kind != "" {
			raw.Kind = string(kind)
		}
		out, err := normalize.Reports(raw, pc, source, now)
		if err != nil {
			failed++
			continue
		}
		reports = append(reports, out...)
	}
	return reports, failed, nil
}

// ParseLine is Parse for newline delimited sources. Blank lines yield nothing.
func (p *Parser) ParseLine(line string, source string) ([]model.DeviceReport, error) {
	reports, failed, err := p.Parse([]byte(line), source, "")
	if err != nil {
		return nil, err
	}
	if failed > 0 && len(reports) == 0 {
		return nil, errors.New("report rejected by normalization")
	}
	return reports, nil
}
