package api

import "github.com/darshan-rambhia/racestats/internal/model"

// BuildUsageMatrix pivots car/track usage rows into a matrix indexed as
// [track][car]. Cars and tracks are numbered in order of first appearance.
// Pairs never driven stay nil; rows naming the same pair are summed.
func BuildUsageMatrix(rows []model.CarTrackUsage) model.UsageMatrix {
	carIdx := make(map[string]int)
	trackIdx := make(map[string]int)
	m := model.UsageMatrix{
		Cars:   []string{},
		Tracks: []string{},
	}

	for _, r := range rows {
		if _, ok := carIdx[r.CarNameAbbreviated]; !ok {
			carIdx[r.CarNameAbbreviated] = len(m.Cars)
			m.Cars = append(m.Cars, r.CarNameAbbreviated)
		}
		if _, ok := trackIdx[r.TrackName]; !ok {
			trackIdx[r.TrackName] = len(m.Tracks)
			m.Tracks = append(m.Tracks, r.TrackName)
		}
	}

	m.Matrix = make([][]*model.UsageCell, len(m.Tracks))
	for i := range m.Matrix {
		m.Matrix[i] = make([]*model.UsageCell, len(m.Cars))
	}
	for _, r := range rows {
		t, c := trackIdx[r.TrackName], carIdx[r.CarNameAbbreviated]
		if m.Matrix[t][c] == nil {
			m.Matrix[t][c] = &model.UsageCell{}
		}
		m.Matrix[t][c].Time += r.TotalTime
	}
	return m
}
