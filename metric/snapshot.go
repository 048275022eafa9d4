package metric

import (
	"io"
	"sort"
	"strings"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/c360/obdstream/errors"
)

// Totals gathers the registry and sums the samples of every counter and gauge
// family whose name starts with prefix. Histograms report their sample count.
func (r *MetricsRegistry) Totals(prefix string) (map[string]float64, error) {
	families, err := r.gather(prefix)
	if err != nil {
		return nil, errors.Wrap(err, "MetricsRegistry", "Totals", "gather metrics")
	}

	out := make(map[string]float64, len(families))
	for _, mf := range families {
		var sum float64
		for _, m := range mf.GetMetric() {
			switch mf.GetType() {
			case dto.MetricType_COUNTER:
				sum += m.GetCounter().GetValue()
			case dto.MetricType_GAUGE:
				sum += m.GetGauge().GetValue()
			case dto.MetricType_HISTOGRAM:
				sum += float64(m.GetHistogram().GetSampleCount())
			}
		}
		out[mf.GetName()] = sum
	}
	return out, nil
}

// WriteText renders the families whose name starts with prefix in the
// Prometheus text exposition format.
func (r *MetricsRegistry) WriteText(w io.Writer, prefix string) error {
	families, err := r.gather(prefix)
	if err != nil {
		return errors.Wrap(err, "MetricsRegistry", "WriteText", "gather metrics")
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return errors.Wrap(err, "MetricsRegistry", "WriteText", "encode "+mf.GetName())
		}
	}
	return nil
}

func (r *MetricsRegistry) gather(prefix string) ([]*dto.MetricFamily, error) {
	all, err := r.prometheusRegistry.Gather()
	if err != nil {
		return nil, err
	}
	out := make([]*dto.MetricFamily, 0, len(all))
	for _, mf := range all {
		if strings.HasPrefix(mf.GetName(), prefix) {
			out = append(out, mf)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GetName() < out[j].GetName() })
	return out, nil
}
