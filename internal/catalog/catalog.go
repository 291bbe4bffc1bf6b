// Package catalog holds the static reference data of the economy: packages,
// trade tiers, salary tiers and wheel prize tables.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"cashforge/internal/economy"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultYAML []byte

var ErrInvalidCatalog = errors.New("invalid catalog")

type Catalog struct {
	Packages    []economy.Package    `json:"packages"`
	TradeTiers  []economy.TradeTier  `json:"trade_tiers"`
	SalaryTiers []economy.SalaryTier `json:"salary_tiers"`
	Wheels      []economy.Wheel      `json:"wheels"`
}

type fileTask struct {
	Description string `yaml:"description"`
	Duration    string `yaml:"duration"`
}

type filePackage struct {
	ID             string     `yaml:"id"`
	Level          int        `yaml:"level"`
	Name           string     `yaml:"name"`
	InvestmentCost string     `yaml:"investment_cost"`
	DailyIncome    string     `yaml:"daily_income"`
	Tasks          []fileTask `yaml:"tasks"`
}

type fileTradeTier struct {
	ID             string `yaml:"id"`
	Name           string `yaml:"name"`
	Min            string `yaml:"min"`
	Max            string `yaml:"max"`
	DurationHours  int    `yaml:"duration_hours"`
	ReturnFraction string `yaml:"return_fraction"`
}

type fileSalaryTier struct {
	Level             int    `yaml:"level"`
	RequiredReferrals int    `yaml:"required_referrals"`
	Salary            string `yaml:"salary"`
}

type fileWheel struct {
	Tier   string   `yaml:"tier"`
	Prizes []string `yaml:"prizes"`
}

type file struct {
	Packages    []filePackage    `yaml:"packages"`
	TradeTiers  []fileTradeTier  `yaml:"trade_tiers"`
	SalaryTiers []fileSalaryTier `yaml:"salary_tiers"`
	Wheels      []fileWheel      `yaml:"wheels"`
}

// Default returns the catalog compiled into the binary.
func Default() *Catalog {
	c, err := Parse(defaultYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded catalog: %v", err))
	}
	return c
}

// Load reads a catalog file; an empty path means the embedded default.
func Load(path string) (*Catalog, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return c, nil
}

func Parse(data []byte) (*Catalog, error) {
	var raw file
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	c := &Catalog{}
	for _, p := range raw.Packages {
		cost, err := amount(p.InvestmentCost, "package "+p.ID+" investment_cost")
		if err != nil {
			return nil, err
		}
		income, err := amount(p.DailyIncome, "package "+p.ID+" daily_income")
		if err != nil {
			return nil, err
		}
		pkg := economy.Package{ID: p.ID, Level: p.Level, Name: p.Name, InvestmentCost: cost, DailyIncome: income}
		for _, t := range p.Tasks {
			d, err := time.ParseDuration(t.Duration)
			if err != nil || d <= 0 {
				return nil, fmt.Errorf("%w: package %s task %q duration %q", ErrInvalidCatalog, p.ID, t.Description, t.Duration)
			}
			pkg.Tasks = append(pkg.Tasks, economy.TaskSpec{Description: t.Description, Duration: d})
		}
		c.Packages = append(c.Packages, pkg)
	}

	for _, t := range raw.TradeTiers {
		lo, err := amount(t.Min, "trade tier "+t.ID+" min")
		if err != nil {
			return nil, err
		}
		hi, err := amount(t.Max, "trade tier "+t.ID+" max")
		if err != nil {
			return nil, err
		}
		frac, err := amount(t.ReturnFraction, "trade tier "+t.ID+" return_fraction")
		if err != nil {
			return nil, err
		}
		c.TradeTiers = append(c.TradeTiers, economy.TradeTier{
			ID: t.ID, Name: t.Name, Min: lo, Max: hi, DurationHours: t.DurationHours, ReturnFraction: frac,
		})
	}

	for _, s := range raw.SalaryTiers {
		salary, err := amount(s.Salary, fmt.Sprintf("salary tier %d", s.Level))
		if err != nil {
			return nil, err
		}
		c.SalaryTiers = append(c.SalaryTiers, economy.SalaryTier{Level: s.Level, RequiredReferrals: s.RequiredReferrals, Salary: salary})
	}

	for _, w := range raw.Wheels {
		tier, err := economy.ParseKeyTier(w.Tier)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
		}
		wheel := economy.Wheel{Tier: tier}
		for i, p := range w.Prizes {
			v, err := amount(p, fmt.Sprintf("%s wheel segment %d", tier, i))
			if err != nil {
				return nil, err
			}
			wheel.Prizes = append(wheel.Prizes, v)
		}
		c.Wheels = append(c.Wheels, wheel)
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func amount(s, field string) (decimal.Decimal, error) {
	v, err := economy.ParseAmount(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s: %v", ErrInvalidCatalog, field, err)
	}
	return v, nil
}

// Validate checks the rules the economy relies on. Package levels and salary
// thresholds strictly increase, ids and salary levels are unique, and task
// durations are whole seconds.
func (c *Catalog) Validate() error {
	if len(c.Packages) == 0 {
		return fmt.Errorf("%w: no packages", ErrInvalidCatalog)
	}
	seen := map[string]bool{}
	for i, p := range c.Packages {
		if strings.TrimSpace(p.ID) == "" {
			return fmt.Errorf("%w: package %d has no id", ErrInvalidCatalog, i)
		}
		if seen[p.ID] {
			return fmt.Errorf("%w: duplicate package id %q", ErrInvalidCatalog, p.ID)
		}
		seen[p.ID] = true
		if p.Level < 1 || (i > 0 && p.Level <= c.Packages[i-1].Level) {
			return fmt.Errorf("%w: package %s level %d out of order", ErrInvalidCatalog, p.ID, p.Level)
		}
		if len(p.Tasks) == 0 {
			return fmt.Errorf("%w: package %s has no tasks", ErrInvalidCatalog, p.ID)
		}
		for _, t := range p.Tasks {
			if t.Duration < time.Second || t.Duration%time.Second != 0 {
				return fmt.Errorf("%w: package %s task %q duration %s is not whole seconds", ErrInvalidCatalog, p.ID, t.Description, t.Duration)
			}
		}
	}

	seen = map[string]bool{}
	for _, t := range c.TradeTiers {
		if seen[t.ID] {
			return fmt.Errorf("%w: duplicate trade tier %q", ErrInvalidCatalog, t.ID)
		}
		seen[t.ID] = true
		if t.Min.GreaterThan(t.Max) {
			return fmt.Errorf("%w: trade tier %s min above max", ErrInvalidCatalog, t.ID)
		}
		if t.DurationHours <= 0 {
			return fmt.Errorf("%w: trade tier %s needs a positive duration", ErrInvalidCatalog, t.ID)
		}
	}

	levels := map[int]bool{}
	for i, s := range c.SalaryTiers {
		if s.Level < 1 || levels[s.Level] {
			return fmt.Errorf("%w: salary tier level %d is invalid or duplicated", ErrInvalidCatalog, s.Level)
		}
		levels[s.Level] = true
		if i > 0 && s.RequiredReferrals <= c.SalaryTiers[i-1].RequiredReferrals {
			return fmt.Errorf("%w: salary tier %d threshold out of order", ErrInvalidCatalog, s.Level)
		}
	}

	tiers := map[economy.KeyTier]bool{}
	for _, w := range c.Wheels {
		if tiers[w.Tier] {
			return fmt.Errorf("%w: duplicate %s wheel", ErrInvalidCatalog, w.Tier)
		}
		tiers[w.Tier] = true
		if len(w.Prizes) == 0 {
			return fmt.Errorf("%w: %s wheel has no segments", ErrInvalidCatalog, w.Tier)
		}
	}
	return nil
}

func (c *Catalog) Package(id string) (economy.Package, error) {
	for _, p := range c.Packages {
		if p.ID == id {
			return p, nil
		}
	}
	return economy.Package{}, fmt.Errorf("%w: package %q", economy.ErrNotFound, id)
}

func (c *Catalog) TradeTier(id string) (economy.TradeTier, error) {
	for _, t := range c.TradeTiers {
		if t.ID == id {
			return t, nil
		}
	}
	return economy.TradeTier{}, fmt.Errorf("%w: trade tier %q", economy.ErrNotFound, id)
}

func (c *Catalog) Wheel(tier economy.KeyTier) (economy.Wheel, error) {
	for _, w := range c.Wheels {
		if w.Tier == tier {
			return w, nil
		}
	}
	return economy.Wheel{}, fmt.Errorf("%w: %s wheel", economy.ErrNotFound, tier)
}
