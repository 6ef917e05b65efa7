package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func resetHealthChecker() {
	healthChecker = &HealthChecker{
		components: make(map[string]ComponentHealth),
		startTime:  time.Now(),
	}
}

func TestUpdateComponent(t *testing.T) {
	resetHealthChecker()

	UpdateComponent("sense", true, false, "score 100")

	if len(healthChecker.components) != 1 {
		t.Fatalf("expected 1 component, got %d", len(healthChecker.components))
	}

	comp := healthChecker.components["sense"]
	if !comp.Healthy {
		t.Error("component should be healthy")
	}
	if comp.Message != "score 100" {
		t.Errorf("expected message 'score 100', got '%s'", comp.Message)
	}

	RemoveComponent("sense")
	if len(healthChecker.components) != 0 {
		t.Errorf("expected component to be removed")
	}
}

func TestGetHealth_AllHealthy(t *testing.T) {
	resetHealthChecker()
	SetVersion("1.0.0")

	UpdateComponent("sense", true, false, "")
	UpdateComponent("plan", true, false, "")

	health := GetHealth()

	if health.Status != "healthy" {
		t.Errorf("expected status 'healthy', got '%s'", health.Status)
	}
	if len(health.Components) != 2 {
		t.Errorf("expected 2 components, got %d", len(health.Components))
	}
	if health.Version != "1.0.0" {
		t.Errorf("expected version '1.0.0', got '%s'", health.Version)
	}
}

func TestGetHealth_DegradedAndUnhealthy(t *testing.T) {
	resetHealthChecker()

	UpdateComponent("sense", true, false, "")
	UpdateComponent("plan", true, true, "score 42")

	if got := GetHealth().Status; got != "degraded" {
		t.Errorf("expected status 'degraded', got '%s'", got)
	}

	UpdateComponent("act", false, false, "frozen")

	health := GetHealth()
	if health.Status != "unhealthy" {
		t.Errorf("expected status 'unhealthy', got '%s'", health.Status)
	}
	if health.Components["act"] != "unhealthy: frozen" {
		t.Errorf("unexpected component message %q", health.Components["act"])
	}
}

func TestGetReadiness_CriticalComponents(t *testing.T) {
	resetHealthChecker()
	SetCriticalComponents([]string{"sense", "robot"})

	UpdateComponent("sense", true, false, "")

	readiness := GetReadiness()
	if readiness.Status != "not_ready" {
		t.Errorf("expected 'not_ready' while robot is missing, got '%s'", readiness.Status)
	}
	if readiness.Components["robot"] != "not registered" {
		t.Errorf("unexpected robot entry %q", readiness.Components["robot"])
	}

	UpdateComponent("robot", true, false, "")
	UpdateComponent("plan", false, false, "dead")

	if got := GetReadiness().Status; got != "ready" {
		t.Errorf("non-critical module should not block readiness, got '%s'", got)
	}
}

func TestEmergencyStopMarksUnhealthy(t *testing.T) {
	resetHealthChecker()
	UpdateComponent("sense", true, false, "")

	SetEmergencyStop(true)
	defer SetEmergencyStop(false)

	if got := GetHealth(); got.Status != "unhealthy" || got.Message != "emergency stop active" {
		t.Errorf("expected unhealthy with emergency stop message, got %+v", got)
	}
	if got := GetReadiness().Status; got != "not_ready" {
		t.Errorf("expected not_ready, got '%s'", got)
	}
}

func TestHealthHandler(t *testing.T) {
	resetHealthChecker()
	UpdateComponent("sense", true, false, "")

	rec := httptest.NewRecorder()
	HealthHandler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected application/json, got %s", ct)
	}

	var body HealthStatus
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "healthy" {
		t.Errorf("expected healthy, got %s", body.Status)
	}

	UpdateComponent("sense", false, false, "dead")
	rec = httptest.NewRecorder()
	HealthHandler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}

func TestReadyAndLivenessHandlers(t *testing.T) {
	resetHealthChecker()
	SetCriticalComponents([]string{"robot"})

	rec := httptest.NewRecorder()
	ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	LivenessHandler()(rec, httptest.NewRequest(http.MethodGet, "/live", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "alive" {
		t.Errorf("expected alive, got %s", body["status"])
	}
}
