package strava

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-fitsync/core"
	"github.com/goliatone/go-fitsync/providers"
)

const (
	ProviderID = "strava"
	AuthURL    = "https://www.strava.com/oauth/authorize"
	TokenURL   = "https://www.strava.com/oauth/token"
	RevokeURL  = "https://www.strava.com/oauth/deauthorize"
	APIBaseURL = "https://www.strava.com/api/v3"

	sourceActivities = "activities"
	pageSize         = 100
	maxPages         = 10
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
		DefaultScopes: []string{"read", "activity:read_all"},
	}
}

// Provider adapts the Strava API. Activities are aggregated into daily
// totals keyed by the activity's local start date.
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
		ID:                 ProviderID,
		AuthURL:            cfg.AuthURL,
		TokenURL:           cfg.TokenURL,
		RevokeURL:          cfg.RevokeURL,
		RevokeMethod:       http.MethodPost,
		RevokeStyle:        providers.RevokeBearer,
		ClientID:           cfg.ClientID,
		ClientSecret:       cfg.ClientSecret,
		ClientSecretInBody: true,
		DefaultScopes:      cfg.DefaultScopes,
		ScopeSeparator:     ",",
		AuthParams:         map[string]string{"approval_prompt": "auto"},
		ExternalUserID: func(raw map[string]any) string {
			return providers.NestedString(raw, "athlete", "id")
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

type activity struct {
	ID               int64    `json:"id"`
	Type             string   `json:"type,omitempty"`
	StartDateLocal   string   `json:"start_date_local"`
	Distance         *float64 `json:"distance,omitempty"`
	MovingTime       *float64 `json:"moving_time,omitempty"`
	HasHeartrate     bool     `json:"has_heartrate,omitempty"`
	AverageHeartrate *float64 `json:"average_heartrate,omitempty"`
	Calories         *float64 `json:"calories,omitempty"`
}

// FetchDailySummaries queries a window padded by a day on each side, since the
// API filters on UTC epochs while activities are bucketed by local start
// date. Activities whose local day falls outside dates are dropped so a run
// never writes a partial total for a neighbouring day.
func (p *Provider) FetchDailySummaries(ctx context.Context, conn core.Connection, dates core.DateRange) ([]core.RawRecord, error) {
	after := dates.Start.AddDate(0, 0, -1).Unix()
	before := dates.End.AddDate(0, 0, 2).Unix()
	records := []core.RawRecord{}
	for page := 1; page <= maxPages; page++ {
		var activities []activity
		err := p.GetJSON(ctx, conn, p.apiBaseURL+"/athlete/activities", map[string]string{
			"after":    strconv.FormatInt(after, 10),
			"before":   strconv.FormatInt(before, 10),
			"page":     strconv.Itoa(page),
			"per_page": strconv.Itoa(pageSize),
		}, &activities)
		if err != nil {
			return nil, err
		}
		for _, item := range activities {
			day, dayErr := providers.DayOf(item.StartDateLocal)
			if dayErr != nil {
				return nil, core.WrapError(core.KindFetchFailed, dayErr, "strava: invalid activity start date")
			}
			if !dates.Contains(day) {
				continue
			}
			record, recordErr := providers.Record(sourceActivities, day, item)
			if recordErr != nil {
				return nil, recordErr
			}
			records = append(records, record)
		}
		if len(activities) < pageSize {
			break
		}
	}
	return records, nil
}

type dailyTotals struct {
	day          time.Time
	distance     float64
	hasDistance  bool
	seconds      float64
	hasSeconds   bool
	calories     float64
	hasCalories  bool
	workouts     int
	hrWeighted   float64
	hrWeightSecs float64
}

// MapMetrics aggregates activities per day: summed distance, moving minutes
// and calories, workout count and moving-time weighted average heart rate.
func (p *Provider) MapMetrics(records []core.RawRecord) ([]core.Metric, error) {
	totals := map[string]*dailyTotals{}
	order := []string{}
	for _, record := range records {
		if record.Source != sourceActivities {
			continue
		}
		item, err := providers.Decode[activity](record)
		if err != nil {
			return nil, err
		}
		key := record.Date.Format(core.DateLayout)
		total, ok := totals[key]
		if !ok {
			total = &dailyTotals{day: record.Date}
			totals[key] = total
			order = append(order, key)
		}
		total.workouts++
		if item.Distance != nil {
			total.distance += *item.Distance
			total.hasDistance = true
		}
		if item.MovingTime != nil {
			total.seconds += *item.MovingTime
			total.hasSeconds = true
		}
		if item.Calories != nil {
			total.calories += *item.Calories
			total.hasCalories = true
		}
		if item.AverageHeartrate != nil && item.MovingTime != nil && *item.MovingTime > 0 {
			total.hrWeighted += *item.AverageHeartrate * *item.MovingTime
			total.hrWeightSecs += *item.MovingTime
		}
	}

	set := providers.NewMetricSet()
	for _, key := range order {
		total := totals[key]
		set.Add(total.day, core.MetricWorkouts, float64(total.workouts))
		if total.hasDistance {
			set.Add(total.day, core.MetricDistance, total.distance/1000)
		}
		if total.hasSeconds {
			set.Add(total.day, core.MetricActiveMinutes, total.seconds/60)
		}
		if total.hasCalories {
			set.Add(total.day, core.MetricCalories, total.calories)
		}
		if total.hrWeightSecs > 0 {
			set.Add(total.day, core.MetricActiveHeartRate, total.hrWeighted/total.hrWeightSecs)
		}
	}
	return set.Metrics(), nil
}

var _ core.Provider = (*Provider)(nil)
