package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"candlevault/internal/market"
)

type fakeAuthSource struct {
	candles []market.Candle
	errs    []error
	calls   int
}

func (f *fakeAuthSource) GetCandles(_ context.Context, _ string, _ market.Granularity, start, end time.Time) ([]market.Candle, error) {
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return nil, err
	}
	var out []market.Candle
	for _, c := range f.candles {
		if c.Time >= start.Unix() && c.Time < end.Unix() {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeAuthSource) SubscribeTicks(context.Context, []string, market.SubscribeOptions) (<-chan market.Tick, error) {
	ch := make(chan market.Tick)
	close(ch)
	return ch, nil
}

func (f *fakeAuthSource) Stats() market.SourceStats { return market.SourceStats{} }
func (f *fakeAuthSource) Close() error              { return nil }

type fakeWriter struct {
	written []market.Candle
	err     error
}

func (f *fakeWriter) WriteCandle(_ context.Context, _ string, _ market.Granularity, c market.Candle) error {
	if f.err != nil {
		return f.err
	}
	f.written = append(f.written, c)
	return nil
}

type fakeStoredReader struct {
	stored []market.Candle
}

func (f *fakeStoredReader) GetCandles(_ context.Context, _ string, _ market.Granularity, start, end int64) ([]market.Candle, error) {
	var out []market.Candle
	for _, c := range f.stored {
		if c.Time >= start && c.Time <= end {
			out = append(out, c)
		}
	}
	return out, nil
}

const minute0 = int64(1_714_521_600)

func authCandle(high float64) market.Candle {
	return market.Candle{Time: minute0, Open: 100, High: high, Low: 99, Close: 100.5, Volume: 12}
}

func TestReconcilerOverwritesDivergentMinute(t *testing.T) {
	// Tick-derived candle under-sampled the high; the API saw 102.
	source := &fakeAuthSource{candles: []market.Candle{authCandle(102)}}
	writer := &fakeWriter{}
	reader := &fakeStoredReader{stored: []market.Candle{authCandle(101)}}

	var corrected []market.Candle
	r := NewReconciler(source, writer, reader, ReconcilerConfig{})
	r.OnCorrection = func(_ string, c market.Candle) { corrected = append(corrected, c) }

	r.process(context.Background(), reconcileJob{pair: "BTCUSDT", minute: minute0, attempt: 1})

	require.Len(t, writer.written, 1)
	assert.EqualValues(t, 102, writer.written[0].High)
	require.Len(t, corrected, 1)
	assert.EqualValues(t, 102, corrected[0].High)
}

func TestReconcilerSkipsMatchingMinute(t *testing.T) {
	source := &fakeAuthSource{candles: []market.Candle{authCandle(101)}}
	writer := &fakeWriter{}
	reader := &fakeStoredReader{stored: []market.Candle{authCandle(101)}}

	r := NewReconciler(source, writer, reader, ReconcilerConfig{})
	r.process(context.Background(), reconcileJob{pair: "BTCUSDT", minute: minute0, attempt: 1})

	assert.Empty(t, writer.written)
}

func TestReconcilerLeavesTickCandleWhenUpstreamHasNone(t *testing.T) {
	source := &fakeAuthSource{} // no candles for any minute
	writer := &fakeWriter{}
	reader := &fakeStoredReader{stored: []market.Candle{authCandle(101)}}

	r := NewReconciler(source, writer, reader, ReconcilerConfig{})
	r.process(context.Background(), reconcileJob{pair: "BTCUSDT", minute: minute0, attempt: 1})

	assert.Empty(t, writer.written)
	// No retry either; the absence is definitive.
	assert.Empty(t, r.jobs)
}

func TestReconcilerWritesMissingMinute(t *testing.T) {
	// Nothing stored at all, e.g. the tick feed was down for that minute.
	source := &fakeAuthSource{candles: []market.Candle{authCandle(101)}}
	writer := &fakeWriter{}
	reader := &fakeStoredReader{}

	r := NewReconciler(source, writer, reader, ReconcilerConfig{})
	r.process(context.Background(), reconcileJob{pair: "BTCUSDT", minute: minute0, attempt: 1})

	require.Len(t, writer.written, 1)
	assert.Equal(t, minute0, writer.written[0].Time)
}

func TestReconcilerGivesUpAfterMaxAttempts(t *testing.T) {
	source := &fakeAuthSource{errs: []error{
		market.ErrUpstreamUnavailable,
		market.ErrUpstreamUnavailable,
		market.ErrUpstreamUnavailable,
		market.ErrUpstreamUnavailable,
		market.ErrUpstreamUnavailable,
	}}
	writer := &fakeWriter{}
	reader := &fakeStoredReader{}

	r := NewReconciler(source, writer, reader, ReconcilerConfig{MaxAttempts: 3})
	r.nowFn = func() time.Time { return time.Unix(0, 0) }

	r.Enqueue("BTCUSDT", minute0)
	for {
		select {
		case job := <-r.jobs:
			r.process(context.Background(), job)
		default:
			assert.Equal(t, 3, source.calls)
			assert.Empty(t, writer.written)
			return
		}
	}
}

func TestReconcilerEnqueueRecentSkipsOpenMinute(t *testing.T) {
	source := &fakeAuthSource{}
	r := NewReconciler(source, &fakeWriter{}, &fakeStoredReader{}, ReconcilerConfig{})
	now := time.Unix(minute0+90, 0) // mid-minute
	r.nowFn = func() time.Time { return now }

	r.EnqueueRecent("BTCUSDT", 3)

	var minutes []int64
	for len(r.jobs) > 0 {
		minutes = append(minutes, (<-r.jobs).minute)
	}
	// The minute containing `now` (minute0+60) is still being built.
	assert.Equal(t, []int64{minute0, minute0 - 60, minute0 - 120}, minutes)
}
