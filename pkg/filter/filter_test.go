package filter

import (
	"testing"

	"github.com/ChrisMcGann/psvalidate/pkg/core"
)

func testSpectrum() *core.Spectrum {
	return &core.Spectrum{
		Title:       "scan=7",
		PrecursorMZ: 500.0,
		Peaks: []core.Peak{
			{MZ: 260.0, Intensity: 40.0},
			{MZ: 100.0, Intensity: 10.0},
			{MZ: 110.0, Intensity: 50.0},
			{MZ: 150.0, Intensity: 0.0},
			{MZ: 205.0, Intensity: 100.0},
			{MZ: 210.0, Intensity: 5.0},
		},
	}
}

func TestApply(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantMZ  []float64
		wantErr bool
	}{
		{
			name:   "no filters drops zero intensity and sorts",
			config: Config{},
			wantMZ: []float64{100, 110, 205, 210, 260},
		},
		{
			name:   "intensity cutoff",
			config: Config{IntensityCutoff: 40},
			wantMZ: []float64{110, 205, 260},
		},
		{
			name:   "window top n",
			config: Config{WindowTopN: 1, WindowSize: 100},
			wantMZ: []float64{110, 205},
		},
		{
			name:   "window top two",
			config: Config{WindowTopN: 2, WindowSize: 100},
			wantMZ: []float64{100, 110, 205, 260},
		},
		{
			name:   "cutoff then window",
			config: Config{IntensityCutoff: 20, WindowTopN: 1, WindowSize: 50},
			wantMZ: []float64{110, 205, 260},
		},
		{
			name:    "window without size",
			config:  Config{WindowTopN: 1},
			wantErr: true,
		},
		{
			name:    "cutoff out of range",
			config:  Config{IntensityCutoff: 150},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := testSpectrum()
			got, err := tt.config.Apply(spec)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Apply() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}

			if len(got.Peaks) != len(tt.wantMZ) {
				t.Fatalf("got %d peaks, want %d: %+v", len(got.Peaks), len(tt.wantMZ), got.Peaks)
			}
			for i, mz := range tt.wantMZ {
				if got.Peaks[i].MZ != mz {
					t.Errorf("peak %d: got m/z %.1f, want %.1f", i, got.Peaks[i].MZ, mz)
				}
			}
			if len(spec.Peaks) != 6 || spec.Peaks[0].MZ != 260 {
				t.Error("Apply() modified the input spectrum")
			}
		})
	}
}
