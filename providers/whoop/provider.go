package whoop

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-fitsync/core"
	"github.com/goliatone/go-fitsync/providers"
)

const (
	ProviderID = "whoop"
	AuthURL    = "https://api.prod.whoop.com/oauth/oauth2/auth"
	TokenURL   = "https://api.prod.whoop.com/oauth/oauth2/token"
	APIBaseURL = "https://api.prod.whoop.com/developer/v1"

	sourceCycle              = "cycle"
	sourceRecovery           = "recovery"
	scoreScored              = "SCORED"
	pageLimit                = "25"
	maxPages                 = 20
	kilojoulesPerKilocalorie = 4.184
)

type Config struct {
	ClientID       string
	ClientSecret   string
	AuthURL        string
	TokenURL       string
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
		APIBaseURL:    APIBaseURL,
		DefaultScopes: []string{"offline", "read:profile", "read:cycles", "read:recovery"},
	}
}

// Provider adapts the WHOOP developer API. Physiological cycles carry strain
// derived metrics and recoveries carry the recovery score.
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
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = defaults.APIBaseURL
	}
	if len(cfg.DefaultScopes) == 0 {
		cfg.DefaultScopes = defaults.DefaultScopes
	}
	apiBaseURL := strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/")
	base, err := providers.NewOAuth2Provider(providers.OAuth2Config{
		ID:                  ProviderID,
		AuthURL:             cfg.AuthURL,
		TokenURL:            cfg.TokenURL,
		RevokeURL:           apiBaseURL + "/user/access",
		RevokeMethod:        http.MethodDelete,
		RevokeStyle:         providers.RevokeBearer,
		ClientID:            cfg.ClientID,
		ClientSecret:        cfg.ClientSecret,
		ClientSecretInBody:  true,
		DefaultScopes:       cfg.DefaultScopes,
		TokenRequestTimeout: cfg.RequestTimeout,
		Now:                 cfg.Now,
		HTTPClient:          cfg.HTTPClient,
	})
	if err != nil {
		return nil, err
	}
	return &Provider{OAuth2Provider: base, apiBaseURL: apiBaseURL}, nil
}

// CompleteAuth exchanges the code and resolves the WHOOP user id from the
// basic profile. A failed lookup leaves the external id empty.
func (p *Provider) CompleteAuth(ctx context.Context, req core.CompleteAuthRequest) (core.TokenSet, error) {
	token, err := p.OAuth2Provider.CompleteAuth(ctx, req)
	if err != nil {
		return core.TokenSet{}, err
	}
	var profile map[string]any
	conn := core.Connection{AccessToken: token.AccessToken}
	if lookupErr := p.GetJSON(ctx, conn, p.apiBaseURL+"/user/profile/basic", nil, &profile); lookupErr == nil {
		token.ExternalUserID = providers.NestedString(profile, "user_id")
	}
	return token, nil
}

type cycle struct {
	ID             int64  `json:"id"`
	Start          string `json:"start"`
	TimezoneOffset string `json:"timezone_offset,omitempty"`
	ScoreState     string `json:"score_state"`
	Score          *struct {
		Kilojoule        *float64 `json:"kilojoule,omitempty"`
		AverageHeartRate *float64 `json:"average_heart_rate,omitempty"`
	} `json:"score,omitempty"`
}

type recovery struct {
	CycleID    int64  `json:"cycle_id"`
	CreatedAt  string `json:"created_at"`
	ScoreState string `json:"score_state"`
	Score      *struct {
		RecoveryScore    *float64 `json:"recovery_score,omitempty"`
		RestingHeartRate *float64 `json:"resting_heart_rate,omitempty"`
	} `json:"score,omitempty"`
}

type page[T any] struct {
	Records   []T    `json:"records"`
	NextToken string `json:"next_token"`
}

// FetchDailySummaries pulls cycles and recoveries. A recovery is attributed
// to the local start day of its cycle. The query window is padded by a day on
// each side so cycles whose local day is in range but whose UTC start is not
// are still seen.
func (p *Provider) FetchDailySummaries(ctx context.Context, conn core.Connection, dates core.DateRange) ([]core.RawRecord, error) {
	start := dates.Start.AddDate(0, 0, -1).Format(time.RFC3339)
	end := dates.End.AddDate(0, 0, 2).Format(time.RFC3339)

	cycles, err := fetchAll[cycle](ctx, p, conn, "/cycle", start, end)
	if err != nil {
		return nil, err
	}
	records := []core.RawRecord{}
	cycleDays := map[int64]time.Time{}
	for _, item := range cycles {
		day, dayErr := localDay(item.Start, item.TimezoneOffset)
		if dayErr != nil {
			return nil, core.WrapError(core.KindFetchFailed, dayErr, "whoop: invalid cycle start")
		}
		cycleDays[item.ID] = day
		if !dates.Contains(day) {
			continue
		}
		record, recordErr := providers.Record(sourceCycle, day, item)
		if recordErr != nil {
			return nil, recordErr
		}
		records = append(records, record)
	}

	recoveries, err := fetchAll[recovery](ctx, p, conn, "/recovery", start, end)
	if err != nil {
		return nil, err
	}
	for _, item := range recoveries {
		day, ok := cycleDays[item.CycleID]
		if !ok {
			parsed, dayErr := providers.DayOf(item.CreatedAt)
			if dayErr != nil {
				return nil, core.WrapError(core.KindFetchFailed, dayErr, "whoop: invalid recovery timestamp")
			}
			day = parsed
		}
		if !dates.Contains(day) {
			continue
		}
		record, recordErr := providers.Record(sourceRecovery, day, item)
		if recordErr != nil {
			return nil, recordErr
		}
		records = append(records, record)
	}
	return records, nil
}

func fetchAll[T any](ctx context.Context, p *Provider, conn core.Connection, path string, start string, end string) ([]T, error) {
	query := map[string]string{
		"start": start,
		"end":   end,
		"limit": pageLimit,
	}
	out := []T{}
	for i := 0; i < maxPages; i++ {
		var result page[T]
		if err := p.GetJSON(ctx, conn, p.apiBaseURL+path, query, &result); err != nil {
			return nil, err
		}
		out = append(out, result.Records...)
		if strings.TrimSpace(result.NextToken) == "" {
			break
		}
		query["nextToken"] = strings.TrimSpace(result.NextToken)
	}
	return out, nil
}

func localDay(timestamp string, offset string) (time.Time, error) {
	at, err := time.Parse(time.RFC3339, strings.TrimSpace(timestamp))
	if err != nil {
		return time.Time{}, err
	}
	if offset = strings.TrimSpace(offset); offset != "" {
		if zoned, zoneErr := time.Parse("2006-01-02T15:04:05Z07:00", "2000-01-01T00:00:00"+offset); zoneErr == nil {
			at = at.In(zoned.Location())
		}
	}
	y, m, d := at.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
}

func (p *Provider) MapMetrics(records []core.RawRecord) ([]core.Metric, error) {
	set := providers.NewMetricSet()
	for _, record := range records {
		day := record.Date
		switch record.Source {
		case sourceCycle:
			item, err := providers.Decode[cycle](record)
			if err != nil {
				return nil, err
			}
			if item.ScoreState != scoreScored || item.Score == nil {
				continue
			}
			set.AddScaled(day, core.MetricCalories, item.Score.Kilojoule, 1/kilojoulesPerKilocalorie)
			set.AddFloat(day, core.MetricActiveHeartRate, item.Score.AverageHeartRate)
		case sourceRecovery:
			item, err := providers.Decode[recovery](record)
			if err != nil {
				return nil, err
			}
			if item.ScoreState != scoreScored || item.Score == nil {
				continue
			}
			set.AddFloat(day, core.MetricRecoveryScore, item.Score.RecoveryScore)
			set.AddFloat(day, core.MetricRestingHeartRate, item.Score.RestingHeartRate)
		}
	}
	return set.Metrics(), nil
}

var _ core.Provider = (*Provider)(nil)
