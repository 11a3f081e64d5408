package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/medofficehq/chargerules/internal/lib"
	"github.com/medofficehq/chargerules/internal/models"
)

// tokenScope is the client-credentials scope for the health-records API.
const tokenScope = "athena/service/Athenanet.MDP.*"

// tokenExpiryMargin refreshes the cached token this long before it expires.
const tokenExpiryMargin = 5 * time.Minute

// AthenaClient talks to the athenahealth API: appointment lookups, encounter
// service lines, and modifier updates. It satisfies the rules.CaseProvider
// interface.
type AthenaClient struct {
	http   *HTTPClient
	config models.AthenaConfig
	logger zerolog.Logger

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// NewAthenaClient creates a client for the configured practice.
func NewAthenaClient(httpClient *HTTPClient, config models.AthenaConfig, logger zerolog.Logger) *AthenaClient {
	return &AthenaClient{
		http:   httpClient,
		config: config,
		logger: lib.ComponentLogger(logger, "athena"),
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// accessToken returns a cached OAuth2 token, fetching a new one via the
// client-credentials flow when missing or near expiry.
func (c *AthenaClient) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Now().Before(c.tokenExpiry.Add(-tokenExpiryMargin)) {
		return c.token, nil
	}

	tokenURL := c.config.TokenURL
	if tokenURL == "" {
		tokenURL = strings.TrimSuffix(c.config.BaseURL, "/") + "/oauth2/v1/token"
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("scope", tokenScope)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.config.ClientID, c.config.ClientSecret)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", lib.NewRemoteAPIError("token request", resp.StatusCode, string(body))
	}

	var token tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}
	if token.AccessToken == "" {
		return "", fmt.Errorf("token response missing access_token")
	}

	c.token = token.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(token.ExpiresIn) * time.Second)
	c.logger.Debug().Time("expiry", c.tokenExpiry).Msg("refreshed access token")

	return c.token, nil
}

// apiURL builds a practice-scoped endpoint URL.
func (c *AthenaClient) apiURL(path string) string {
	return fmt.Sprintf("%s/%s%s", strings.TrimSuffix(c.config.BaseURL, "/"), c.config.PracticeID, path)
}

// authorizedDo attaches the bearer token and executes the request.
func (c *AthenaClient) authorizedDo(ctx context.Context, method, rawURL string, body string, contentType string) (*http.Response, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	return c.http.Do(req)
}

type bookedAppointmentsResponse struct {
	Appointments []models.AppointmentDetail `json:"appointments"`
}

// FetchAppointment looks up the booked appointment for one patient case.
// Returns a NotFoundError when the remote system has no matching record.
func (c *AthenaClient) FetchAppointment(ctx context.Context, patient models.PatientCase) (*models.AppointmentDetail, error) {
	query := url.Values{}
	query.Set("startdate", patient.AppointmentDate)
	query.Set("enddate", patient.AppointmentDate)
	query.Set("departmentid", c.config.DepartmentID)
	query.Set("patientid", patient.PatientID)
	query.Set("appointmentid", patient.AppointmentID)
	query.Set("showpatientdetail", "true")
	query.Set("showinsurance", "true")
	query.Set("showclaimdetail", "true")
	query.Set("showexpectedprocedurecodes", "true")

	endpoint := c.apiURL("/appointments/booked") + "?" + query.Encode()

	resp, err := c.authorizedDo(ctx, http.MethodGet, endpoint, "", "")
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return nil, lib.NewNotFoundError("appointment", patient.AppointmentID)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, lib.NewRemoteAPIError("fetch appointment", resp.StatusCode, string(body))
	}

	var booked bookedAppointmentsResponse
	if err := json.NewDecoder(resp.Body).Decode(&booked); err != nil {
		return nil, fmt.Errorf("failed to decode appointments response: %w", err)
	}
	if len(booked.Appointments) == 0 {
		return nil, nil
	}

	appointment := booked.Appointments[0]
	return &appointment, nil
}

type encounterServicesResponse struct {
	TotalCount int                      `json:"totalcount"`
	Procedures []models.ProcedureRecord `json:"procedures"`
}

// FetchServices returns the service lines recorded on an encounter.
func (c *AthenaClient) FetchServices(ctx context.Context, encounterID string) ([]models.ProcedureRecord, error) {
	endpoint := c.apiURL(fmt.Sprintf("/encounter/%s/services", url.PathEscape(encounterID)))

	resp, err := c.authorizedDo(ctx, http.MethodGet, endpoint, "", "")
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return nil, lib.NewNotFoundError("encounter", encounterID)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, lib.NewRemoteAPIError("fetch services", resp.StatusCode, string(body))
	}

	var services encounterServicesResponse
	if err := json.NewDecoder(resp.Body).Decode(&services); err != nil {
		return nil, fmt.Errorf("failed to decode services response: %w", err)
	}

	return services.Procedures, nil
}

// updateService writes the modifier list (and optional extra fields) on one
// service line. An empty modifier list clears existing modifiers.
func (c *AthenaClient) updateService(ctx context.Context, encounterID, serviceID string, modifiers []string, extra map[string]string) error {
	if modifiers == nil {
		modifiers = []string{}
	}
	modifiersJSON, err := json.Marshal(modifiers)
	if err != nil {
		return fmt.Errorf("failed to encode modifiers: %w", err)
	}

	form := url.Values{}
	form.Set("modifiers", string(modifiersJSON))
	form.Set("billforservice", "true")
	for key, value := range extra {
		form.Set(key, value)
	}

	endpoint := c.apiURL(fmt.Sprintf("/encounter/%s/services/%s",
		url.PathEscape(encounterID), url.PathEscape(serviceID)))

	resp, err := c.authorizedDo(ctx, http.MethodPut, endpoint, form.Encode(), "application/x-www-form-urlencoded")
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return lib.NewRemoteAPIError("update service", resp.StatusCode, string(body))
	}

	c.logger.Debug().
		Str("encounter_id", encounterID).
		Str("service_id", serviceID).
		Strs("modifiers", modifiers).
		Msg("service updated")

	return nil
}

// ApplyModifiers sets the full modifier list on a service line.
func (c *AthenaClient) ApplyModifiers(ctx context.Context, encounterID, serviceID string, modifiers []string, extra map[string]string) error {
	return c.updateService(ctx, encounterID, serviceID, modifiers, extra)
}

// RemoveModifiers clears all modifiers from a service line.
func (c *AthenaClient) RemoveModifiers(ctx context.Context, encounterID, serviceID string, extra map[string]string) error {
	return c.updateService(ctx, encounterID, serviceID, []string{}, extra)
}
