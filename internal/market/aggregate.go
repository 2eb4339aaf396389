package market

import "sort"

// Aggregate derives a coarser series from 1-minute candles by bucket
// summarization: open from the first candle in a bucket, close from the last,
// high/low as running extremes, volume summed. The input is treated as a
// closed sequence, so the trailing bucket is emitted even if partial; live
// consumers must not feed an unfinished minute stream through here.
// Aggregating into 1m is the identity (modulo sorting and copying).
func Aggregate(oneMinute []Candle, target Granularity) []Candle {
	if len(oneMinute) == 0 {
		return nil
	}
	period := target.Seconds()
	if period <= 0 {
		return nil
	}

	sorted := make([]Candle, len(oneMinute))
	copy(sorted, oneMinute)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Time < sorted[j].Time })

	if target == Granularity1m {
		return sorted
	}

	out := make([]Candle, 0, len(sorted)/int(period/60)+1)
	var cur Candle
	open := false
	for _, c := range sorted {
		bucket := c.Time / period * period
		if !open || cur.Time != bucket {
			if open {
				out = append(out, cur)
			}
			cur = Candle{
				Time:   bucket,
				Open:   c.Open,
				High:   c.High,
				Low:    c.Low,
				Close:  c.Close,
				Volume: c.Volume,
			}
			open = true
			continue
		}
		if c.High > cur.High {
			cur.High = c.High
		}
		if c.Low < cur.Low {
			cur.Low = c.Low
		}
		cur.Close = c.Close
		cur.Volume += c.Volume
	}
	if open {
		out = append(out, cur)
	}
	return out
}
