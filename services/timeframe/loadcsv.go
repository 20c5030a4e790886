package timeframe

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// LoadCSV reads an OHLCV file (timestamp_ms,open,high,low,close,volume) into
// ordered bars. UTF-16 files from exchange exports are detected by BOM and
// decoded transparently. Malformed rows are skipped; duplicate timestamps
// keep the first occurrence.
func LoadCSV(filename string) ([]Bar, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	br := bufio.NewReader(f)
	var reader io.Reader = br
	if b, _ := br.Peek(2); len(b) >= 2 && ((b[0] == 0xFF && b[1] == 0xFE) || (b[0] == 0xFE && b[1] == 0xFF)) {
		if _, err := f.Seek(0, 0); err != nil {
			return nil, err
		}
		reader = transform.NewReader(f, unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM).NewDecoder())
	}

	r := csv.NewReader(reader)
	r.FieldsPerRecord = -1
	r.ReuseRecord = false
	r.LazyQuotes = true

	bars := make([]Bar, 0, 1_000)
	var lastTs int64 = -1
	idx := 0
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			idx++
			continue
		}
		if len(rec) < 6 {
			idx++
			continue
		}
		if idx == 0 && (strings.EqualFold(rec[0], "timestamp") || strings.EqualFold(rec[0], "timestamp_ms")) {
			idx++
			continue
		}

		ts, err := strconv.ParseInt(strings.TrimSpace(strings.TrimPrefix(rec[0], "\uFEFF")), 10, 64)
		if err != nil {
			idx++
			continue
		}
		o, e1 := decimal.NewFromString(strings.TrimSpace(rec[1]))
		h, e2 := decimal.NewFromString(strings.TrimSpace(rec[2]))
		l, e3 := decimal.NewFromString(strings.TrimSpace(rec[3]))
		c, e4 := decimal.NewFromString(strings.TrimSpace(rec[4]))
		v, e5 := decimal.NewFromString(strings.TrimSpace(rec[5]))
		if e1 != nil || e2 != nil || e3 != nil || e4 != nil || e5 != nil {
			idx++
			continue
		}
		if ts <= lastTs {
			idx++
			continue
		}
		bars = append(bars, Bar{Timestamp: ts, Open: o, High: h, Low: l, Close: c, Volume: v})
		lastTs = ts
		idx++
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("no valid bars in %s", filename)
	}
	return bars, nil
}
