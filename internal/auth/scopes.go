package auth

// Scopes understood by the service.
const (
	ScopeSamplesWrite  = "samples:write"
	ScopeTrainingWrite = "training:write"
	ScopeModelsRead    = "models:read"
)
