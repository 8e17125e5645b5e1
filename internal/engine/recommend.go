package engine

import "fmt"

// recommend suggests better windows for appliances that ended up mostly on
// grid power but could have been shifted. Only stretches not booked by other
// appliances are proposed.
func (o *Optimizer) recommend(p dayPlan, items []ScheduleItem, occ Occupancy) []Recommendation {
	recs := []Recommendation{}
	windows := FindOptimalWindows(p.curve, o.cfg.MinWindow)
	if len(windows) == 0 {
		return recs
	}

	for _, item := range items {
		if item.SolarCoverage >= o.cfg.TargetCoverage || item.Appliance.Flexibility < o.cfg.FlexibilityThreshold {
			continue
		}

		own := Interval{Start: p.minuteOf(item.Start), End: p.minuteOf(item.End)}
		others := occ.Without(own)

		if rec, ok := p.betterWindow(item, own.Len(), others, windows); ok {
			recs = append(recs, rec)
		}
	}
	return recs
}

// betterWindow walks the windows best first and returns the first one holding
// a start that beats the item's current coverage
func (p dayPlan) betterWindow(item ScheduleItem, length int, others Occupancy, windows []Window) (Recommendation, bool) {
	for _, w := range windows {
		from, to := p.minuteOf(w.Start), p.minuteOf(w.End)

		var best Interval
		bestCov := item.SolarCoverage
		for s := from; s < to; s += p.slotMin {
			iv := Interval{Start: s, End: s + length}
			if !others.Free(iv) {
				continue
			}
			if cov := p.coverage(item.Appliance, iv); cov > bestCov+scoreEpsilon {
				best, bestCov = iv, cov
			}
		}
		if bestCov <= item.SolarCoverage+scoreEpsilon {
			continue
		}

		start, end := p.at(best.Start), p.at(best.End)
		return Recommendation{
			Appliance:         item.Appliance.Name,
			Start:             start,
			End:               end,
			CurrentCoverage:   item.SolarCoverage,
			ProjectedCoverage: bestCov,
			Rationale: fmt.Sprintf("shifting to %s–%s would raise solar coverage from %.0f%% to %.0f%%",
				start.Format("15:04"), end.Format("15:04"), item.SolarCoverage*100, bestCov*100),
		}, true
	}
	return Recommendation{}, false
}
