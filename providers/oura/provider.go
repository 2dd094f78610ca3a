package oura

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-fitsync/core"
	"github.com/goliatone/go-fitsync/providers"
)

const (
	ProviderID = "oura"
	AuthURL    = "https://cloud.ouraring.com/oauth/authorize"
	TokenURL   = "https://api.ouraring.com/oauth/token"
	RevokeURL  = "https://api.ouraring.com/oauth/revoke"
	APIBaseURL = "https://api.ouraring.com/v2/usercollection"

	sourceDailyActivity  = "daily_activity"
	sourceDailyReadiness = "daily_readiness"
	sourceSleep          = "sleep"
	maxPages             = 20
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
		DefaultScopes: []string{"personal", "daily", "heartrate"},
	}
}

// Provider adapts the Oura v2 user collection API.
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
		ID:                  ProviderID,
		AuthURL:             cfg.AuthURL,
		TokenURL:            cfg.TokenURL,
		RevokeURL:           cfg.RevokeURL,
		RevokeMethod:        http.MethodPost,
		RevokeStyle:         providers.RevokeQueryToken,
		ClientID:            cfg.ClientID,
		ClientSecret:        cfg.ClientSecret,
		DefaultScopes:       cfg.DefaultScopes,
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

// CompleteAuth exchanges the code and resolves the Oura user id from
// personal_info. A failed lookup leaves the external id empty.
func (p *Provider) CompleteAuth(ctx context.Context, req core.CompleteAuthRequest) (core.TokenSet, error) {
	token, err := p.OAuth2Provider.CompleteAuth(ctx, req)
	if err != nil {
		return core.TokenSet{}, err
	}
	var profile struct {
		ID string `json:"id"`
	}
	conn := core.Connection{AccessToken: token.AccessToken}
	if lookupErr := p.GetJSON(ctx, conn, p.apiBaseURL+"/personal_info", nil, &profile); lookupErr == nil {
		token.ExternalUserID = strings.TrimSpace(profile.ID)
	}
	return token, nil
}

type collectionPage struct {
	Data      []map[string]any `json:"data"`
	NextToken *string          `json:"next_token"`
}

type dailyActivity struct {
	Day                       string   `json:"day"`
	Steps                     *int64   `json:"steps,omitempty"`
	ActiveCalories            *float64 `json:"active_calories,omitempty"`
	EquivalentWalkingDistance *float64 `json:"equivalent_walking_distance,omitempty"`
	HighActivityTime          *float64 `json:"high_activity_time,omitempty"`
	MediumActivityTime        *float64 `json:"medium_activity_time,omitempty"`
}

type dailyReadiness struct {
	Day   string   `json:"day"`
	Score *float64 `json:"score,omitempty"`
}

type sleepPeriod struct {
	Day                string   `json:"day"`
	Type               string   `json:"type,omitempty"`
	TotalSleepDuration *float64 `json:"total_sleep_duration,omitempty"`
	LowestHeartRate    *float64 `json:"lowest_heart_rate,omitempty"`
}

// FetchDailySummaries pulls the three collections for the range. Oura treats
// end_date as exclusive for some collections, so the request covers one
// extra day and out-of-range documents are dropped.
func (p *Provider) FetchDailySummaries(ctx context.Context, conn core.Connection, dates core.DateRange) ([]core.RawRecord, error) {
	records := []core.RawRecord{}
	for _, source := range []string{sourceDailyActivity, sourceDailyReadiness, sourceSleep} {
		collected, err := p.fetchCollection(ctx, conn, source, dates)
		if err != nil {
			return nil, err
		}
		records = append(records, collected...)
	}
	return records, nil
}

func (p *Provider) fetchCollection(ctx context.Context, conn core.Connection, source string, dates core.DateRange) ([]core.RawRecord, error) {
	query := map[string]string{
		"start_date": dates.Start.Format(core.DateLayout),
		"end_date":   dates.End.AddDate(0, 0, 1).Format(core.DateLayout),
	}
	records := []core.RawRecord{}
	for page := 0; page < maxPages; page++ {
		var result collectionPage
		if err := p.GetJSON(ctx, conn, p.apiBaseURL+"/"+source, query, &result); err != nil {
			return nil, err
		}
		for _, document := range result.Data {
			day, err := providers.DayOf(providers.NestedString(document, "day"))
			if err != nil {
				return nil, core.WrapError(core.KindFetchFailed, err, "oura: invalid document day")
			}
			if !dates.Contains(day) {
				continue
			}
			record, err := providers.Record(source, day, document)
			if err != nil {
				return nil, err
			}
			records = append(records, record)
		}
		if result.NextToken == nil || strings.TrimSpace(*result.NextToken) == "" {
			break
		}
		query["next_token"] = strings.TrimSpace(*result.NextToken)
	}
	return records, nil
}

type sleepTotals struct {
	day         time.Time
	seconds     float64
	hasSeconds  bool
	lowestHR    float64
	hasLowestHR bool
}

func (p *Provider) MapMetrics(records []core.RawRecord) ([]core.Metric, error) {
	set := providers.NewMetricSet()
	sleeps := map[string]*sleepTotals{}
	sleepOrder := []string{}
	for _, record := range records {
		day := record.Date
		switch record.Source {
		case sourceDailyActivity:
			activity, err := providers.Decode[dailyActivity](record)
			if err != nil {
				return nil, err
			}
			set.AddInt(day, core.MetricSteps, activity.Steps)
			set.AddFloat(day, core.MetricCalories, activity.ActiveCalories)
			set.AddScaled(day, core.MetricDistance, activity.EquivalentWalkingDistance, 0.001)
			if activity.HighActivityTime != nil || activity.MediumActivityTime != nil {
				seconds := 0.0
				if activity.HighActivityTime != nil {
					seconds += *activity.HighActivityTime
				}
				if activity.MediumActivityTime != nil {
					seconds += *activity.MediumActivityTime
				}
				set.Add(day, core.MetricActiveMinutes, seconds/60)
			}
		case sourceDailyReadiness:
			readiness, err := providers.Decode[dailyReadiness](record)
			if err != nil {
				return nil, err
			}
			set.AddFloat(day, core.MetricRecoveryScore, readiness.Score)
		case sourceSleep:
			period, err := providers.Decode[sleepPeriod](record)
			if err != nil {
				return nil, err
			}
			key := day.Format(core.DateLayout)
			totals, ok := sleeps[key]
			if !ok {
				totals = &sleepTotals{day: day}
				sleeps[key] = totals
				sleepOrder = append(sleepOrder, key)
			}
			if period.TotalSleepDuration != nil {
				totals.seconds += *period.TotalSleepDuration
				totals.hasSeconds = true
			}
			if period.LowestHeartRate != nil && (!totals.hasLowestHR || *period.LowestHeartRate < totals.lowestHR) {
				totals.lowestHR = *period.LowestHeartRate
				totals.hasLowestHR = true
			}
		}
	}
	for _, key := range sleepOrder {
		totals := sleeps[key]
		if totals.hasSeconds {
			set.Add(totals.day, core.MetricSleepMinutes, totals.seconds/60)
		}
		if totals.hasLowestHR {
			set.Add(totals.day, core.MetricRestingHeartRate, totals.lowestHR)
		}
	}
	return set.Metrics(), nil
}

var _ core.Provider = (*Provider)(nil)
