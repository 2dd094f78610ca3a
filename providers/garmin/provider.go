package garmin

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
	ProviderID      = "garmin"
	RequestTokenURL = "https://connectapi.garmin.com/oauth-service/oauth/request_token"
	AuthorizeURL    = "https://connect.garmin.com/oauthConfirm"
	AccessTokenURL  = "https://connectapi.garmin.com/oauth-service/oauth/access_token"
	APIBaseURL      = "https://apis.garmin.com/wellness-api/rest"

	sourceDailies = "dailies"
)

type Config struct {
	ConsumerKey     string
	ConsumerSecret  string
	RequestTokenURL string
	AuthorizeURL    string
	AccessTokenURL  string
	APIBaseURL      string
	RequestTimeout  time.Duration
	Now             func() time.Time
	Nonce           func() (string, error)
	HTTPClient      providers.HTTPDoer
}

func DefaultConfig() Config {
	return Config{
		RequestTokenURL: RequestTokenURL,
		AuthorizeURL:    AuthorizeURL,
		AccessTokenURL:  AccessTokenURL,
		APIBaseURL:      APIBaseURL,
	}
}

// Provider adapts the Garmin Health API. Daily summaries are pulled from the
// wellness dailies endpoint, one upload window per calendar day.
type Provider struct {
	*providers.OAuth1Provider
	apiBaseURL string
}

func New(cfg Config) (*Provider, error) {
	defaults := DefaultConfig()
	if cfg.RequestTokenURL == "" {
		cfg.RequestTokenURL = defaults.RequestTokenURL
	}
	if cfg.AuthorizeURL == "" {
		cfg.AuthorizeURL = defaults.AuthorizeURL
	}
	if cfg.AccessTokenURL == "" {
		cfg.AccessTokenURL = defaults.AccessTokenURL
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = defaults.APIBaseURL
	}
	apiBaseURL := strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/")
	base, err := providers.NewOAuth1Provider(providers.OAuth1Config{
		ID:              ProviderID,
		RequestTokenURL: cfg.RequestTokenURL,
		AuthorizeURL:    cfg.AuthorizeURL,
		AccessTokenURL:  cfg.AccessTokenURL,
		RevokeURL:       apiBaseURL + "/user/registration",
		RevokeMethod:    http.MethodDelete,
		ConsumerKey:     cfg.ConsumerKey,
		ConsumerSecret:  cfg.ConsumerSecret,
		RequestTimeout:  cfg.RequestTimeout,
		Now:             cfg.Now,
		Nonce:           cfg.Nonce,
		HTTPClient:      cfg.HTTPClient,
	})
	if err != nil {
		return nil, err
	}
	return &Provider{OAuth1Provider: base, apiBaseURL: apiBaseURL}, nil
}

// CompleteAuth exchanges the verifier and resolves the Garmin user id. A
// failed user id lookup leaves the external id empty.
func (p *Provider) CompleteAuth(ctx context.Context, req core.CompleteAuthRequest) (core.TokenSet, error) {
	token, err := p.OAuth1Provider.CompleteAuth(ctx, req)
	if err != nil {
		return core.TokenSet{}, err
	}
	var profile struct {
		UserID string `json:"userId"`
	}
	conn := core.Connection{AccessToken: token.AccessToken, TokenSecret: token.TokenSecret}
	if lookupErr := p.GetJSON(ctx, conn, p.apiBaseURL+"/user/id", nil, &profile); lookupErr == nil {
		token.ExternalUserID = strings.TrimSpace(profile.UserID)
	}
	return token, nil
}

type dailySummary struct {
	SummaryID                        string   `json:"summaryId"`
	CalendarDate                     string   `json:"calendarDate"`
	TotalSteps                       *int64   `json:"totalSteps,omitempty"`
	Steps                            *int64   `json:"steps,omitempty"`
	ActiveKilocalories               *float64 `json:"activeKilocalories,omitempty"`
	DistanceInMeters                 *float64 `json:"distanceInMeters,omitempty"`
	ActiveTimeInSeconds              *float64 `json:"activeTimeInSeconds,omitempty"`
	RestingHeartRateInBeatsPerMinute *float64 `json:"restingHeartRateInBeatsPerMinute,omitempty"`
	AverageHeartRateInBeatsPerMinute *float64 `json:"averageHeartRateInBeatsPerMinute,omitempty"`
	AverageStressLevel               *float64 `json:"averageStressLevel,omitempty"`
}

// FetchDailySummaries queries the dailies endpoint once per day because the
// upload window may not exceed 24 hours.
func (p *Provider) FetchDailySummaries(ctx context.Context, conn core.Connection, dates core.DateRange) ([]core.RawRecord, error) {
	records := []core.RawRecord{}
	for _, day := range dates.Days() {
		start := day.Unix()
		end := day.AddDate(0, 0, 1).Unix() - 1
		var summaries []dailySummary
		err := p.GetJSON(ctx, conn, p.apiBaseURL+"/dailies", map[string]string{
			"uploadStartTimeInSeconds": strconv.FormatInt(start, 10),
			"uploadEndTimeInSeconds":   strconv.FormatInt(end, 10),
		}, &summaries)
		if err != nil {
			return nil, err
		}
		for _, summary := range summaries {
			summaryDay := day
			if summary.CalendarDate != "" {
				parsed, parseErr := core.ParseDate(summary.CalendarDate)
				if parseErr != nil {
					return nil, core.WrapError(core.KindFetchFailed, parseErr, "garmin: invalid calendar date")
				}
				summaryDay = parsed
			}
			record, recordErr := providers.Record(sourceDailies, summaryDay, summary)
			if recordErr != nil {
				return nil, recordErr
			}
			records = append(records, record)
		}
	}
	return records, nil
}

func (p *Provider) MapMetrics(records []core.RawRecord) ([]core.Metric, error) {
	set := providers.NewMetricSet()
	for _, record := range records {
		if record.Source != sourceDailies {
			continue
		}
		summary, err := providers.Decode[dailySummary](record)
		if err != nil {
			return nil, err
		}
		day := record.Date
		steps := summary.TotalSteps
		if steps == nil {
			steps = summary.Steps
		}
		set.AddInt(day, core.MetricSteps, steps)
		set.AddFloat(day, core.MetricCalories, summary.ActiveKilocalories)
		set.AddScaled(day, core.MetricDistance, summary.DistanceInMeters, 0.001)
		set.AddScaled(day, core.MetricActiveMinutes, summary.ActiveTimeInSeconds, 1.0/60)
		set.AddFloat(day, core.MetricRestingHeartRate, summary.RestingHeartRateInBeatsPerMinute)
		set.AddFloat(day, core.MetricActiveHeartRate, summary.AverageHeartRateInBeatsPerMinute)
		// Garmin reports -1 when there is not enough data for a stress level.
		if summary.AverageStressLevel != nil && *summary.AverageStressLevel >= 0 {
			set.AddFloat(day, core.MetricStressScore, summary.AverageStressLevel)
		}
	}
	return set.Metrics(), nil
}

var _ core.Provider = (*Provider)(nil)
