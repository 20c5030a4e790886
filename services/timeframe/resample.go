package timeframe

import "fmt"

// Resample aggregates bars of a finer timeframe into a coarser one by
// bucketing on the target duration. Partial trailing buckets are emitted;
// alignment later decides whether they are visible. Source bars must be in
// ascending timestamp order.
func Resample(src []Bar, fromLabel, toLabel string) ([]Bar, error) {
	fromDur, err := ParseDuration(fromLabel)
	if err != nil {
		return nil, err
	}
	toDur, err := ParseDuration(toLabel)
	if err != nil {
		return nil, err
	}
	if toDur <= fromDur || toDur%fromDur != 0 {
		return nil, fmt.Errorf("cannot resample %s into %s", fromLabel, toLabel)
	}

	out := make([]Bar, 0, len(src)/int(toDur/fromDur)+1)
	var cur Bar
	curBucket := int64(-1)
	for _, b := range src {
		bucket := b.Timestamp - b.Timestamp%toDur
		if bucket != curBucket {
			if curBucket >= 0 {
				out = append(out, cur)
			}
			curBucket = bucket
			cur = Bar{Timestamp: bucket, Open: b.Open, High: b.High, Low: b.Low, Close: b.Close, Volume: b.Volume}
			continue
		}
		if b.High.GreaterThan(cur.High) {
			cur.High = b.High
		}
		if b.Low.LessThan(cur.Low) {
			cur.Low = b.Low
		}
		cur.Close = b.Close
		cur.Volume = cur.Volume.Add(b.Volume)
	}
	if curBucket >= 0 {
		out = append(out, cur)
	}
	return out, nil
}

// BuildStore loads the reference bars into a store and derives every higher
// timeframe by resampling, then computes indicators and alignment. This is
// the single-file entry path; multi-file input goes through Add directly.
func BuildStore(hierarchy []string, refBars []Bar, kind MAKind, maPeriod, atrPeriod int) (*Store, error) {
	st, err := NewStore(hierarchy)
	if err != nil {
		return nil, err
	}
	ref, err := NewSeries(hierarchy[0], refBars)
	if err != nil {
		return nil, err
	}
	if err := ref.ComputeIndicators(kind, maPeriod, atrPeriod); err != nil {
		return nil, err
	}
	if err := st.Add(ref); err != nil {
		return nil, err
	}
	for _, label := range hierarchy[1:] {
		bars, err := Resample(refBars, hierarchy[0], label)
		if err != nil {
			return nil, err
		}
		s, err := NewSeries(label, bars)
		if err != nil {
			return nil, err
		}
		if err := s.ComputeIndicators(kind, maPeriod, atrPeriod); err != nil {
			return nil, err
		}
		if err := st.Add(s); err != nil {
			return nil, err
		}
	}
	if err := st.BuildAlignment(); err != nil {
		return nil, err
	}
	return st, nil
}
