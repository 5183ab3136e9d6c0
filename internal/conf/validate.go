package conf

import (
	"errors"
	"fmt"
)

// ValidateSettings checks the loaded settings for values the core components
// cannot operate with. Validation failures are configuration errors and abort
// startup; they are never silently corrected.
func ValidateSettings(s *Settings) error {
	var errs []error

	if s.Recognition.TopK < 1 {
		errs = append(errs, fmt.Errorf("recognition.topk must be at least 1, got %d", s.Recognition.TopK))
	}
	if s.Recognition.UnknownDistanceThreshold < 0 {
		errs = append(errs, fmt.Errorf("recognition.unknowndistancethreshold must not be negative, got %g", s.Recognition.UnknownDistanceThreshold))
	}
	if s.Recognition.MarginThreshold < 0 {
		errs = append(errs, fmt.Errorf("recognition.marginthreshold must not be negative, got %g", s.Recognition.MarginThreshold))
	}
	if s.Recognition.OverlapBlockThreshold < 0 || s.Recognition.OverlapBlockThreshold > 1 {
		errs = append(errs, fmt.Errorf("recognition.overlapblockthreshold must be within [0,1], got %g", s.Recognition.OverlapBlockThreshold))
	}

	if s.Session.AttemptLimit < 1 {
		errs = append(errs, fmt.Errorf("session.attemptlimit must be at least 1, got %d", s.Session.AttemptLimit))
	}
	if s.Session.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("session.timeout must be positive, got %v", s.Session.Timeout))
	}

	if s.Worker.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("worker.pollinterval must be positive, got %v", s.Worker.PollInterval))
	}
	if s.Worker.Report.Enabled {
		if s.Worker.Report.URL == "" {
			errs = append(errs, errors.New("worker.report.url is required when reporting is enabled"))
		}
		if s.Worker.Report.Timeout <= 0 {
			errs = append(errs, fmt.Errorf("worker.report.timeout must be positive, got %v", s.Worker.Report.Timeout))
		}
	}

	if s.CCTV.FPS < 1 {
		errs = append(errs, fmt.Errorf("cctv.fps must be at least 1, got %d", s.CCTV.FPS))
	}
	if s.CCTV.ClipHalfWindowSec < 1 {
		errs = append(errs, fmt.Errorf("cctv.cliphalfwindowsec must be at least 1, got %d", s.CCTV.ClipHalfWindowSec))
	}
	for _, d := range []struct {
		name string
		ds   DetectorSettings
	}{
		{"cctv.fall", s.CCTV.Fall},
		{"cctv.violence", s.CCTV.Violence},
		{"cctv.mobilityaid", s.CCTV.MobilityAid},
	} {
		if !d.ds.Enabled {
			continue
		}
		if d.ds.MinConsecutiveFrames < 1 {
			errs = append(errs, fmt.Errorf("%s.minconsecutiveframes must be at least 1, got %d", d.name, d.ds.MinConsecutiveFrames))
		}
		if d.ds.Cooldown < 0 {
			errs = append(errs, fmt.Errorf("%s.cooldown must not be negative, got %v", d.name, d.ds.Cooldown))
		}
	}

	if !s.Output.SQLite.Enabled && !s.Output.MySQL.Enabled {
		errs = append(errs, errors.New("either output.sqlite or output.mysql must be enabled"))
	}

	return errors.Join(errs...)
}
