// Package analytics computes the operational KPIs of the order dataset.
package analytics

import (
	"sort"

	"github.com/opensource-finance/heron/internal/domain"
)

// KPIs are the headline figures of the overview.
type KPIs struct {
	Orders        int     `json:"orders"`
	Revenue       float64 `json:"revenue"`
	DelayRatePct  float64 `json:"delayRatePct"`
	MeanDelayDays float64 `json:"meanDelayDays"` // over late orders only
	CancelRatePct float64 `json:"cancelRatePct"`
}

// StatusCount is one slice of the status breakdown.
type StatusCount struct {
	Status string `json:"status"`
	Orders int    `json:"orders"`
}

// StateDelay is the delay intensity of one customer state.
type StateDelay struct {
	State         string  `json:"state"`
	DelayedOrders int     `json:"delayedOrders"`
	MeanDelayDays float64 `json:"meanDelayDays"`
}

// StateValue pairs a customer state with a figure.
type StateValue struct {
	State string  `json:"state"`
	Value float64 `json:"value"`
}

// CategoryValue pairs a category label with a figure.
type CategoryValue struct {
	Category string  `json:"category"`
	Value    float64 `json:"value"`
}

// Snapshot is the full KPI view for one filter.
type Snapshot struct {
	Filter             domain.OrderFilter `json:"filter"`
	DatasetVersion     int64              `json:"datasetVersion"`
	KPIs               KPIs               `json:"kpis"`
	Statuses           []StatusCount      `json:"statuses"`
	DelayByState       []StateDelay       `json:"delayByState"`
	TopStatesByRevenue []StateValue       `json:"topStatesByRevenue"`
	CancelRateByState  []StateValue       `json:"cancelRateByState"`
	TopCategoryDelay   []CategoryValue    `json:"topCategoryDelay"`
	TopCategoryProcess []CategoryValue    `json:"topCategoryProcessing"`
}

type mean struct {
	sum float64
	n   int
}

func (m *mean) add(v float64) {
	m.sum += v
	m.n++
}

func (m mean) value() float64 {
	if m.n == 0 {
		return 0
	}
	return m.sum / float64(m.n)
}

// Compute aggregates orders into a snapshot. Ranked lists keep at most topN entries.
func Compute(orders []*domain.Order, topN int) *Snapshot {
	if topN <= 0 {
		topN = 10
	}

	s := &Snapshot{}
	s.KPIs.Orders = len(orders)

	var late, canceled int
	var lateDelay mean
	statuses := map[string]int{}
	stateDelay := map[string]*mean{}
	stateRevenue := map[string]float64{}
	stateCancel := map[string]*mean{}
	categoryDelay := map[string]*mean{}
	categoryProcess := map[string]*mean{}

	for _, o := range orders {
		s.KPIs.Revenue += o.Revenue
		statuses[o.Status]++
		stateRevenue[o.CustomerState] += o.Revenue

		isCancel := 0.0
		if o.Status == domain.StatusCanceled {
			canceled++
			isCancel = 1
		}
		meanOf(stateCancel, o.CustomerState).add(isCancel)

		if o.Late {
			late++
			lateDelay.add(o.DelayDays)
		}
		if o.DelayDays > 0 {
			meanOf(stateDelay, o.CustomerState).add(o.DelayDays)
			if o.CategoryLabel != "" {
				meanOf(categoryDelay, o.CategoryLabel).add(o.DelayDays)
			}
		}
		if o.ProcessingDays >= 0 && o.CategoryLabel != "" {
			meanOf(categoryProcess, o.CategoryLabel).add(o.ProcessingDays)
		}
	}

	if n := len(orders); n > 0 {
		s.KPIs.DelayRatePct = float64(late) / float64(n) * 100
		s.KPIs.CancelRatePct = float64(canceled) / float64(n) * 100
	}
	s.KPIs.MeanDelayDays = lateDelay.value()

	s.Statuses = make([]StatusCount, 0, len(statuses))
	for status, n := range statuses {
		s.Statuses = append(s.Statuses, StatusCount{Status: status, Orders: n})
	}
	sort.Slice(s.Statuses, func(i, j int) bool {
		if s.Statuses[i].Orders != s.Statuses[j].Orders {
			return s.Statuses[i].Orders > s.Statuses[j].Orders
		}
		return s.Statuses[i].Status < s.Statuses[j].Status
	})

	s.DelayByState = make([]StateDelay, 0, len(stateDelay))
	for state, m := range stateDelay {
		s.DelayByState = append(s.DelayByState, StateDelay{State: state, DelayedOrders: m.n, MeanDelayDays: m.value()})
	}
	sort.Slice(s.DelayByState, func(i, j int) bool { return s.DelayByState[i].State < s.DelayByState[j].State })

	for state, revenue := range stateRevenue {
		s.TopStatesByRevenue = append(s.TopStatesByRevenue, StateValue{State: state, Value: revenue})
	}
	s.TopStatesByRevenue = topStates(s.TopStatesByRevenue, topN)

	for state, m := range stateCancel {
		s.CancelRateByState = append(s.CancelRateByState, StateValue{State: state, Value: m.value()})
	}
	sort.Slice(s.CancelRateByState, func(i, j int) bool { return s.CancelRateByState[i].State < s.CancelRateByState[j].State })

	s.TopCategoryDelay = topCategories(categoryDelay, topN)
	s.TopCategoryProcess = topCategories(categoryProcess, topN)

	return s
}

func meanOf(m map[string]*mean, key string) *mean {
	v, ok := m[key]
	if !ok {
		v = &mean{}
		m[key] = v
	}
	return v
}

func topStates(values []StateValue, n int) []StateValue {
	sort.Slice(values, func(i, j int) bool {
		if values[i].Value != values[j].Value {
			return values[i].Value > values[j].Value
		}
		return values[i].State < values[j].State
	})
	if len(values) > n {
		values = values[:n]
	}
	return values
}

func topCategories(means map[string]*mean, n int) []CategoryValue {
	out := make([]CategoryValue, 0, len(means))
	for category, m := range means {
		out = append(out, CategoryValue{Category: category, Value: m.value()})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Value != out[j].Value {
			return out[i].Value > out[j].Value
		}
		return out[i].Category < out[j].Category
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
