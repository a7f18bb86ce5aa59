package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// --- Response types (дублируются из api/dto.go, CLI не импортирует internal/api) ---

// PipelineResponse — pipeline из API.
type PipelineResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	IsActive  bool   `json:"is_active"`
	CreatedAt string `json:"created_at"`
}

// PipelineVersionResponse — версия pipeline из API.
type PipelineVersionResponse struct {
	PipelineID string         `json:"pipeline_id"`
	Version    int            `json:"version"`
	Spec       map[string]any `json:"spec"`
	CreatedAt  string         `json:"created_at"`
}

// TriggerEvent — метаданные события, создавшего run.
type TriggerEvent struct {
	Event         string `json:"event"`
	Ref           string `json:"ref,omitempty"`
	Commit        string `json:"commit,omitempty"`
	ChangeRequest int    `json:"change_request,omitempty"`
}

// RunResponse — run из API.
type RunResponse struct {
	ID         string       `json:"id"`
	PipelineID string       `json:"pipeline_id"`
	Version    int          `json:"version"`
	Status     string       `json:"status"`
	Trigger    TriggerEvent `json:"trigger"`
	GroupKey   string       `json:"group_key,omitempty"`
	StartedAt  string       `json:"started_at,omitempty"`
	FinishedAt string       `json:"finished_at,omitempty"`
	Error      string       `json:"error,omitempty"`
	CreatedAt  string       `json:"created_at"`
}

// StepResult — результат шага job из API.
type StepResult struct {
	StepID   string `json:"step_id"`
	Status   string `json:"status"`
	ExitCode int    `json:"exit_code,omitempty"`
	Error    string `json:"error,omitempty"`
}

// JobResponse — job из API.
type JobResponse struct {
	ID         string            `json:"id"`
	RunID      string            `json:"run_id"`
	Name       string            `json:"name"`
	Template   string            `json:"template"`
	Variant    map[string]string `json:"variant,omitempty"`
	Needs      []string          `json:"needs,omitempty"`
	Outcome    string            `json:"outcome"`
	SoftFailed bool              `json:"soft_failed,omitempty"`
	Steps      []StepResult      `json:"steps,omitempty"`
	StartedAt  string            `json:"started_at,omitempty"`
	FinishedAt string            `json:"finished_at,omitempty"`
	Error      string            `json:"error,omitempty"`
	CreatedAt  string            `json:"created_at"`
}

// AnnotationResponse — аннотация из API.
type AnnotationResponse struct {
	ID        string `json:"id"`
	RunID     string `json:"run_id"`
	JobID     string `json:"job_id"`
	JobName   string `json:"job_name"`
	StepID    string `json:"step_id"`
	Severity  string `json:"severity"`
	Message   string `json:"message"`
	File      string `json:"file,omitempty"`
	Line      int    `json:"line,omitempty"`
	CreatedAt string `json:"created_at"`
}

// ScheduleResponse — schedule из API.
type ScheduleResponse struct {
	ID          string `json:"id"`
	PipelineID  string `json:"pipeline_id"`
	Name        string `json:"name,omitempty"`
	Ref         string `json:"ref,omitempty"`
	CronExpr    string `json:"cron_expr,omitempty"`
	IntervalSec int    `json:"interval_sec,omitempty"`
	Timezone    string `json:"timezone"`
	Enabled     bool   `json:"enabled"`
	NextDueAt   string `json:"next_due_at,omitempty"`
	LastRunAt   string `json:"last_run_at,omitempty"`
	LastRunID   string `json:"last_run_id,omitempty"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

// CacheEntryResponse — метаданные записи кэша из API.
type CacheEntryResponse struct {
	Key       string `json:"key"`
	SizeBytes int64  `json:"size_bytes"`
	UpdatedAt string `json:"updated_at"`
}

// EventResponse — результат обработки события.
type EventResponse struct {
	Accepted bool         `json:"accepted"`
	Reason   string       `json:"reason,omitempty"`
	Run      *RunResponse `json:"run,omitempty"`
}

// --- Request types ---

// UpdatePipelineRequest — обновление pipeline.
type UpdatePipelineRequest struct {
	Name     *string `json:"name,omitempty"`
	IsActive *bool   `json:"is_active,omitempty"`
}

// CreateRunRequest — создание run.
type CreateRunRequest struct {
	Ref     string `json:"ref"`
	Commit  string `json:"commit,omitempty"`
	Version *int   `json:"version,omitempty"`
}

// EventRequest — событие репозитория.
type EventRequest struct {
	Pipeline      string   `json:"pipeline"`
	Event         string   `json:"event"`
	Ref           string   `json:"ref"`
	Commit        string   `json:"commit,omitempty"`
	ChangeRequest int      `json:"change_request,omitempty"`
	ChangedPaths  []string `json:"changed_paths,omitempty"`
}

// CreateScheduleRequest — создание schedule.
type CreateScheduleRequest struct {
	Name        string `json:"name"`
	Ref         string `json:"ref,omitempty"`
	CronExpr    string `json:"cron_expr,omitempty"`
	IntervalSec int    `json:"interval_sec,omitempty"`
	Timezone    string `json:"timezone,omitempty"`
	Enabled     bool   `json:"enabled"`
}

// UpdateScheduleRequest — обновление schedule.
type UpdateScheduleRequest struct {
	Name        *string `json:"name,omitempty"`
	Ref         *string `json:"ref,omitempty"`
	CronExpr    *string `json:"cron_expr,omitempty"`
	IntervalSec *int    `json:"interval_sec,omitempty"`
	Timezone    *string `json:"timezone,omitempty"`
}

// ListRunsOpts — параметры фильтрации runs.
type ListRunsOpts struct {
	PipelineID string
	Status     string
	Limit      int
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type listResponse struct {
	Data  json.RawMessage `json:"data"`
	Total int             `json:"total"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// --- Client ---

// Client — HTTP-клиент для Conveyor API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент для API.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// --- Pipelines ---

// ListPipelines возвращает все pipelines.
func (c *Client) ListPipelines() ([]PipelineResponse, error) {
	var pipelines []PipelineResponse
	err := c.list("/api/v1/pipelines", nil, &pipelines)
	return pipelines, err
}

// CreatePipeline создаёт новый pipeline.
func (c *Client) CreatePipeline(name string) (*PipelineResponse, error) {
	body := map[string]string{"name": name}
	var pipeline PipelineResponse
	err := c.post("/api/v1/pipelines", body, &pipeline)
	return &pipeline, err
}

// GetPipeline возвращает pipeline по ID.
func (c *Client) GetPipeline(id string) (*PipelineResponse, error) {
	var pipeline PipelineResponse
	err := c.get("/api/v1/pipelines/"+id, &pipeline)
	return &pipeline, err
}

// UpdatePipeline обновляет pipeline.
func (c *Client) UpdatePipeline(id string, req UpdatePipelineRequest) (*PipelineResponse, error) {
	var pipeline PipelineResponse
	err := c.put("/api/v1/pipelines/"+id, req, &pipeline)
	return &pipeline, err
}

// DeletePipeline удаляет pipeline.
func (c *Client) DeletePipeline(id string) error {
	return c.delete("/api/v1/pipelines/" + id)
}

// ListVersions возвращает версии pipeline.
func (c *Client) ListVersions(pipelineID string) ([]PipelineVersionResponse, error) {
	var versions []PipelineVersionResponse
	err := c.list("/api/v1/pipelines/"+pipelineID+"/versions", nil, &versions)
	return versions, err
}

// CreateVersion создаёт новую версию pipeline.
func (c *Client) CreateVersion(pipelineID string, spec json.RawMessage) (*PipelineVersionResponse, error) {
	body := map[string]json.RawMessage{"spec": spec}
	var version PipelineVersionResponse
	err := c.post("/api/v1/pipelines/"+pipelineID+"/versions", body, &version)
	return &version, err
}

// --- Events ---

// SendEvent отправляет событие репозитория.
func (c *Client) SendEvent(req EventRequest) (*EventResponse, error) {
	var event EventResponse
	err := c.post("/api/v1/events", req, &event)
	return &event, err
}

// --- Runs ---

// ListRuns возвращает список runs с фильтрацией.
func (c *Client) ListRuns(opts ListRunsOpts) ([]RunResponse, error) {
	params := url.Values{}
	if opts.PipelineID != "" {
		params.Set("pipeline_id", opts.PipelineID)
	}
	if opts.Status != "" {
		params.Set("status", opts.Status)
	}
	if opts.Limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", opts.Limit))
	}

	var runs []RunResponse
	err := c.list("/api/v1/runs", params, &runs)
	return runs, err
}

// CreateRun создаёт run для pipeline.
func (c *Client) CreateRun(pipelineID string, req CreateRunRequest) (*RunResponse, error) {
	var run RunResponse
	err := c.post("/api/v1/pipelines/"+pipelineID+"/runs", req, &run)
	return &run, err
}

// GetRun возвращает run по ID.
func (c *Client) GetRun(id string) (*RunResponse, error) {
	var run RunResponse
	err := c.get("/api/v1/runs/"+id, &run)
	return &run, err
}

// CancelRun отменяет run.
func (c *Client) CancelRun(id string) (*RunResponse, error) {
	var run RunResponse
	err := c.post("/api/v1/runs/"+id+"/cancel", nil, &run)
	return &run, err
}

// ListJobs возвращает jobs для run.
func (c *Client) ListJobs(runID string) ([]JobResponse, error) {
	var jobs []JobResponse
	err := c.list("/api/v1/runs/"+runID+"/jobs", nil, &jobs)
	return jobs, err
}

// ListAnnotations возвращает аннотации для run.
func (c *Client) ListAnnotations(runID string) ([]AnnotationResponse, error) {
	var annotations []AnnotationResponse
	err := c.list("/api/v1/runs/"+runID+"/annotations", nil, &annotations)
	return annotations, err
}

// --- Schedules ---

// ListSchedules возвращает schedules. Если pipelineID не пустой — фильтрует.
func (c *Client) ListSchedules(pipelineID string) ([]ScheduleResponse, error) {
	params := url.Values{}
	if pipelineID != "" {
		params.Set("pipeline_id", pipelineID)
	}

	var schedules []ScheduleResponse
	err := c.list("/api/v1/schedules", params, &schedules)
	return schedules, err
}

// CreateSchedule создаёт schedule для pipeline.
func (c *Client) CreateSchedule(pipelineID string, req CreateScheduleRequest) (*ScheduleResponse, error) {
	var schedule ScheduleResponse
	err := c.post("/api/v1/pipelines/"+pipelineID+"/schedules", req, &schedule)
	return &schedule, err
}

// GetSchedule возвращает schedule по ID.
func (c *Client) GetSchedule(id string) (*ScheduleResponse, error) {
	var schedule ScheduleResponse
	err := c.get("/api/v1/schedules/"+id, &schedule)
	return &schedule, err
}

// UpdateSchedule обновляет schedule.
func (c *Client) UpdateSchedule(id string, req UpdateScheduleRequest) (*ScheduleResponse, error) {
	var schedule ScheduleResponse
	err := c.put("/api/v1/schedules/"+id, req, &schedule)
	return &schedule, err
}

// DeleteSchedule удаляет schedule.
func (c *Client) DeleteSchedule(id string) error {
	return c.delete("/api/v1/schedules/" + id)
}

// EnableSchedule включает schedule.
func (c *Client) EnableSchedule(id string) (*ScheduleResponse, error) {
	var schedule ScheduleResponse
	body := map[string]bool{"enabled": true}
	err := c.put("/api/v1/schedules/"+id+"/enabled", body, &schedule)
	return &schedule, err
}

// DisableSchedule выключает schedule.
func (c *Client) DisableSchedule(id string) (*ScheduleResponse, error) {
	var schedule ScheduleResponse
	body := map[string]bool{"enabled": false}
	err := c.put("/api/v1/schedules/"+id+"/enabled", body, &schedule)
	return &schedule, err
}

// --- Cache ---

// ListCacheEntries возвращает метаданные записей кэша.
func (c *Client) ListCacheEntries() ([]CacheEntryResponse, error) {
	var entries []CacheEntryResponse
	err := c.list("/api/v1/cache", nil, &entries)
	return entries, err
}

// DeleteCacheEntry удаляет запись кэша по ключу.
func (c *Client) DeleteCacheEntry(key string) error {
	return c.delete("/api/v1/cache/" + url.PathEscape(key))
}

// --- HTTP helpers ---

func (c *Client) get(path string, result any) error {
	return c.doData(http.MethodGet, path, nil, result)
}

func (c *Client) post(path string, body any, result any) error {
	return c.doData(http.MethodPost, path, body, result)
}

func (c *Client) put(path string, body any, result any) error {
	return c.doData(http.MethodPut, path, body, result)
}

func (c *Client) delete(path string) error {
	resp, err := c.do(http.MethodDelete, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return c.checkError(resp)
}

func (c *Client) list(path string, params url.Values, result any) error {
	if len(params) > 0 {
		path = path + "?" + params.Encode()
	}

	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return json.Unmarshal(lr.Data, result)
}

func (c *Client) doData(method, path string, body any, result any) error {
	resp, err := c.do(method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	// 204 No Content
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if result != nil {
		return json.Unmarshal(dr.Data, result)
	}
	return nil
}

func (c *Client) do(method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

func (c *Client) checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return fmt.Errorf("API error: HTTP %d", resp.StatusCode)
	}

	return fmt.Errorf("%s: %s", er.Error.Code, er.Error.Message)
}
