package planner

import (
	"github.com/banshee-data/speedplan/internal/config"
	"github.com/banshee-data/speedplan/internal/qp"
)

// SettingsFromConfig maps the solver section of the planner config onto
// qp.Settings. A nil cfg yields the defaults.
func SettingsFromConfig(cfg *config.PlannerConfig) qp.Settings {
	if cfg == nil {
		cfg = config.EmptyPlannerConfig()
	}
	s := qp.DefaultSettings()
	s.MaxIter = cfg.GetMaxIter()
	s.EpsAbs = cfg.GetEpsAbs()
	s.EpsRel = cfg.GetEpsRel()
	s.EpsPrimInf = cfg.GetEpsPrimInf()
	s.Rho = cfg.GetRho()
	s.Sigma = cfg.GetSigma()
	s.Alpha = cfg.GetAlpha()
	s.AdaptiveRho = cfg.GetAdaptiveRho()
	s.Polish = cfg.GetPolish()
	return s
}
