package fitbit

import (
	"context"
	"strings"
	"time"

	"github.com/goliatone/go-fitsync/core"
	"github.com/goliatone/go-fitsync/providers"
)

const (
	ProviderID = "fitbit"
	AuthURL    = "https://www.fitbit.com/oauth2/authorize"
	TokenURL   = "https://api.fitbit.com/oauth2/token"
	RevokeURL  = "https://api.fitbit.com/oauth2/revoke"
	APIBaseURL = "https://api.fitbit.com"

	sourceActivities = "activities"
	sourceSleep      = "sleep"
)

type Config struct {
	ClientID       string
	ClientSecret   string
	AuthURL        string
	TokenURL       string
	RevokeURL      string
	APIBaseURL     string
	DefaultScopes  []string
	RequestTimeout time.Duration
	Now            func() time.Time
	HTTPClient     providers.HTTPDoer
}

func DefaultConfig() Config {
	return Config{
		AuthURL:       AuthURL,
		TokenURL:      TokenURL,
		RevokeURL:     RevokeURL,
		APIBaseURL:    APIBaseURL,
		DefaultScopes: []string{"activity", "heartrate", "sleep", "profile"},
	}
}

// Provider adapts the Fitbit Web API using the per-day activity and sleep
// summaries.
type Provider struct {
	*providers.OAuth2Provider
	apiBaseURL string
}

func New(cfg Config) (*Provider, error) {
	defaults := DefaultConfig()
	if cfg.AuthURL == "" {
		cfg.AuthURL = defaults.AuthURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = defaults.TokenURL
	}
	if cfg.RevokeURL == "" {
		cfg.RevokeURL = defaults.RevokeURL
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = defaults.APIBaseURL
	}
	if len(cfg.DefaultScopes) == 0 {
		cfg.DefaultScopes = defaults.DefaultScopes
	}
	base, err := providers.NewOAuth2Provider(providers.OAuth2Config{
		ID:            ProviderID,
		AuthURL:       cfg.AuthURL,
		TokenURL:      cfg.TokenURL,
		RevokeURL:     cfg.RevokeURL,
		RevokeStyle:   providers.RevokeFormToken,
		ClientID:      cfg.ClientID,
		ClientSecret:  cfg.ClientSecret,
		DefaultScopes: cfg.DefaultScopes,
		ExternalUserID: func(raw map[string]any) string {
			return providers.NestedString(raw, "user_id")
		},
		TokenRequestTimeout: cfg.RequestTimeout,
		Now:                 cfg.Now,
		HTTPClient:          cfg.HTTPClient,
	})
	if err != nil {
		return nil, err
	}
	return &Provider{
		OAuth2Provider: base,
		apiBaseURL:     strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/"),
	}, nil
}

type activitySummary struct {
	Summary struct {
		Steps               *int64   `json:"steps,omitempty"`
		ActivityCalories    *float64 `json:"activityCalories,omitempty"`
		RestingHeartRate    *float64 `json:"restingHeartRate,omitempty"`
		FairlyActiveMinutes *float64 `json:"fairlyActiveMinutes,omitempty"`
		VeryActiveMinutes   *float64 `json:"veryActiveMinutes,omitempty"`
		Distances           []struct {
			Activity string  `json:"activity"`
			Distance float64 `json:"distance"`
		} `json:"distances,omitempty"`
	} `json:"summary"`
}

type sleepSummary struct {
	Summary struct {
		TotalMinutesAsleep *float64 `json:"totalMinutesAsleep,omitempty"`
		TotalSleepRecords  int      `json:"totalSleepRecords"`
	} `json:"summary"`
}

func (p *Provider) FetchDailySummaries(ctx context.Context, conn core.Connection, dates core.DateRange) ([]core.RawRecord, error) {
	records := []core.RawRecord{}
	for _, day := range dates.Days() {
		date := day.Format(core.DateLayout)

		var activities activitySummary
		if err := p.GetJSON(ctx, conn, p.apiBaseURL+"/1/user/-/activities/date/"+date+".json", nil, &activities); err != nil {
			return nil, err
		}
		record, err := providers.Record(sourceActivities, day, activities)
		if err != nil {
			return nil, err
		}
		records = append(records, record)

		var sleep sleepSummary
		if err := p.GetJSON(ctx, conn, p.apiBaseURL+"/1.2/user/-/sleep/date/"+date+".json", nil, &sleep); err != nil {
			return nil, err
		}
		record, err = providers.Record(sourceSleep, day, sleep)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

func (p *Provider) MapMetrics(records []core.RawRecord) ([]core.Metric, error) {
	set := providers.NewMetricSet()
	for _, record := range records {
		day := record.Date
		switch record.Source {
		case sourceActivities:
			payload, err := providers.Decode[activitySummary](record)
			if err != nil {
				return nil, err
			}
			summary := payload.Summary
			set.AddInt(day, core.MetricSteps, summary.Steps)
			set.AddFloat(day, core.MetricCalories, summary.ActivityCalories)
			set.AddFloat(day, core.MetricRestingHeartRate, summary.RestingHeartRate)
			if summary.FairlyActiveMinutes != nil || summary.VeryActiveMinutes != nil {
				minutes := 0.0
				if summary.FairlyActiveMinutes != nil {
					minutes += *summary.FairlyActiveMinutes
				}
				if summary.VeryActiveMinutes != nil {
					minutes += *summary.VeryActiveMinutes
				}
				set.Add(day, core.MetricActiveMinutes, minutes)
			}
			for _, distance := range summary.Distances {
				if distance.Activity == "total" {
					set.Add(day, core.MetricDistance, distance.Distance)
				}
			}
		case sourceSleep:
			payload, err := providers.Decode[sleepSummary](record)
			if err != nil {
				return nil, err
			}
			if payload.Summary.TotalSleepRecords > 0 {
				set.AddFloat(day, core.MetricSleepMinutes, payload.Summary.TotalMinutesAsleep)
			}
		}
	}
	return set.Metrics(), nil
}

var _ core.Provider = (*Provider)(nil)
