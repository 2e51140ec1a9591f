package main

import (
	"time"

	"github.com/hydrokb/resolver/catalog"
	"github.com/hydrokb/resolver/pipeline"
	"github.com/hydrokb/resolver/rules"
)

// API Request and Response Models with Swagger annotations

// CreateKnowledgeBaseRequest represents the request body for creating an empty knowledge base
type CreateKnowledgeBaseRequest struct {
	Name    string `json:"name" example:"upper-basin" binding:"required"`
	Purpose string `json:"purpose" example:"daily rainfall-runoff simulation"`
} // @name CreateKnowledgeBaseRequest

// KnowledgeBaseResponse represents a knowledge base in API responses
type KnowledgeBaseResponse struct {
	ID         string    `json:"id" example:"123e4567-e89b-12d3-a456-426614174000"`
	Name       string    `json:"name" example:"upper-basin"`
	Purpose    string    `json:"purpose" example:"daily rainfall-runoff simulation"`
	Source     string    `json:"source" example:"database"`
	RuleCount  int       `json:"ruleCount" example:"42"`
	Algorithms int       `json:"algorithms" example:"17"`
	LoadedAt   time.Time `json:"loadedAt" example:"2024-01-15T10:30:00Z"`
} // @name KnowledgeBaseResponse

// KnowledgeBasesListResponse represents the response for listing knowledge bases
type KnowledgeBasesListResponse struct {
	KnowledgeBases []KnowledgeBaseResponse `json:"knowledgeBases"`
} // @name KnowledgeBasesListResponse

// AlgorithmRequest represents the request body for binding an algorithm; the id comes from the path
type AlgorithmRequest struct {
	ShortName   string `json:"shortName" example:"Horton"`
	ProcessName string `json:"processName" example:"Interception" binding:"required"`
	ComponentID string `json:"componentId" example:"INT_HORTON" binding:"required"`
} // @name AlgorithmRequest

// ComponentRequest represents the request body for component metadata; the id comes from the path
type ComponentRequest struct {
	Role           string   `json:"role,omitempty" example:"time-series reader"`
	Inputs         []string `json:"inputs" example:"P"`
	OptionalInputs []string `json:"optionalInputs,omitempty"`
	Outputs        []string `json:"outputs" example:"NetP"`
} // @name ComponentRequest

// EdgeOverridesRequest represents a whole override table. An empty list
// disables overrides; null restores the defaults.
type EdgeOverridesRequest struct {
	Overrides []catalog.EdgeOverride `json:"overrides"`
} // @name EdgeOverridesRequest

// RuleRequest represents the request body for creating or replacing a rule
type RuleRequest struct {
	ID         string           `json:"id,omitempty" example:"p-interception"`
	Name       string           `json:"name" example:"Interception at sub-daily steps"`
	Category   rules.Category   `json:"category" example:"process" binding:"required"`
	Combinator rules.Combinator `json:"combinator" example:"AND"`
	Conditions []rules.Atom     `json:"conditions" binding:"required"`
	Conclusion rules.Atom       `json:"conclusion" binding:"required"`
	Active     *bool            `json:"active,omitempty" example:"true"`
} // @name RuleRequest

// RulesListResponse represents the response for listing rules
type RulesListResponse struct {
	Rules         []*rules.Rule     `json:"rules"`
	CompileErrors map[string]string `json:"compileErrors,omitempty"`
} // @name RulesListResponse

// ResolveRequest represents the request body for resolving a scenario
type ResolveRequest struct {
	KnowledgeBase string            `json:"kb" example:"upper-basin" binding:"required"`
	Conditions    map[string]string `json:"conditions" binding:"required"`
	Processes     []string          `json:"processes,omitempty" example:"Interception"`
	ExistingData  []string          `json:"existingData,omitempty" example:"P,TMAX,TMIN"`
	Purpose       string            `json:"purpose,omitempty" example:"flood forecasting"`
	Trace         bool              `json:"trace,omitempty"`
} // @name ResolveRequest

// ResolveResponse represents a resolved pipeline
type ResolveResponse struct {
	Pipeline       *pipeline.Pipeline `json:"pipeline"`
	ResolutionTime string             `json:"resolutionTime" example:"2.3ms"`
} // @name ResolveResponse

// EvaluateRequest represents the request body for evaluating one rule category
type EvaluateRequest struct {
	Conditions map[string]string `json:"conditions" binding:"required"`
	Category   rules.Category    `json:"category" example:"process" binding:"required"`
	Rules      []string          `json:"rules,omitempty" example:"p-data,p-runoff"`
} // @name EvaluateRequest

// EvaluateResponse represents the response for rule evaluation
type EvaluateResponse struct {
	Results        []*rules.EvaluationResult `json:"results"`
	Selected       []string                  `json:"selected,omitempty"`
	EvaluationTime string                    `json:"evaluationTime" example:"0.4ms"`
} // @name EvaluateResponse

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error" example:"resolution failed"`
	Details string `json:"details,omitempty" example:"no algorithm identified for process Snowmelt"`
	Stage   string `json:"stage,omitempty" example:"algorithm-selection"`
} // @name ErrorResponse

// HealthResponse represents the health check response
type HealthResponse struct {
	Status             string `json:"status" example:"healthy"`
	KnowledgeBases     int    `json:"knowledgeBases" example:"3"`
	Database           string `json:"database,omitempty" example:"ok"`
	ResolutionFailures int64  `json:"resolutionFailures" example:"0"`
	RuleErrors         int64  `json:"ruleErrors" example:"0"`
	ClientErrors       int64  `json:"clientErrors" example:"0"`
	ServerErrors       int64  `json:"serverErrors" example:"0"`
} // @name HealthResponse
