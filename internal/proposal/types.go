// Package proposal implements the cross-topic relevance engine (C7):
// given a topic's current subjects, it surfaces similar subjects from
// other topics, ranked by keyword overlap and recency, with a
// short-lived cache over the ranked result.
package proposal

import "github.com/kittclouds/gokitt/internal/recipe"

// RecipeProposalConfig is the per-user versioned scoring configuration.
const RecipeProposalConfig = "ProposalConfig"

const (
	defaultMatchWeight    = 0.7
	defaultRecencyWeight  = 0.3
	defaultRecencyWindow  = 30 * 24 * 60 * 60 // seconds
	defaultMinJaccard     = 0.2
	defaultMaxProposals   = 10
	cacheTTLSeconds       = 60
	cacheMaxEntries       = 50
	prefilterShortlistMul = 8
)

// Config is the scoring configuration for one user's proposal requests.
type Config struct {
	UserEmail      string
	MatchWeight    float64
	RecencyWeight  float64
	RecencyWindow  int64 // seconds
	MinJaccard     float64
	MaxProposals   int64
	Updated        int64
}

// DefaultConfig returns the baseline scoring defaults for userEmail.
func DefaultConfig(userEmail string) Config {
	return Config{
		UserEmail:     userEmail,
		MatchWeight:   defaultMatchWeight,
		RecencyWeight: defaultRecencyWeight,
		RecencyWindow: defaultRecencyWindow,
		MinJaccard:    defaultMinJaccard,
		MaxProposals:  defaultMaxProposals,
	}
}

// Proposal is one ranked cross-topic match.
type Proposal struct {
	TopicID         string
	SubjectIDHash   string
	SubjectName     string
	MatchedKeywords []string
	Jaccard         float64
	Recency         float64
	Score           float64
}

// Result is the full response to a GetProposals call.
type Result struct {
	Proposals     []Proposal
	Count         int
	Cached        bool
	ComputeTimeMs int64
}

// RegisterRecipe installs the ProposalConfig schema.
func RegisterRecipe(reg *recipe.Registry) error {
	return reg.Register(&recipe.Recipe{
		Name: RecipeProposalConfig,
		Rule: []recipe.FieldRule{
			{Name: "userEmail", Type: recipe.TypeString, IsID: true},
			{Name: "matchWeight", Type: recipe.TypeFloat},
			{Name: "recencyWeight", Type: recipe.TypeFloat},
			{Name: "recencyWindow", Type: recipe.TypeInt},
			{Name: "minJaccard", Type: recipe.TypeFloat},
			{Name: "maxProposals", Type: recipe.TypeInt},
			{Name: "updated", Type: recipe.TypeInt},
			{Name: "previousVersion", Type: recipe.TypeRef, Optional: true, RefType: RecipeProposalConfig},
		},
	})
}

func configToObject(c Config) recipe.Object {
	return recipe.Object{
		"userEmail":     c.UserEmail,
		"matchWeight":   c.MatchWeight,
		"recencyWeight": c.RecencyWeight,
		"recencyWindow": c.RecencyWindow,
		"minJaccard":    c.MinJaccard,
		"maxProposals":  c.MaxProposals,
		"updated":       c.Updated,
	}
}

func objectToConfig(obj recipe.Object) Config {
	c := Config{}
	if v, ok := obj["userEmail"].(string); ok {
		c.UserEmail = v
	}
	if v, ok := obj["matchWeight"].(float64); ok {
		c.MatchWeight = v
	}
	if v, ok := obj["recencyWeight"].(float64); ok {
		c.RecencyWeight = v
	}
	if v, ok := obj["recencyWindow"].(int64); ok {
		c.RecencyWindow = v
	}
	if v, ok := obj["minJaccard"].(float64); ok {
		c.MinJaccard = v
	}
	if v, ok := obj["maxProposals"].(int64); ok {
		c.MaxProposals = v
	}
	if v, ok := obj["updated"].(int64); ok {
		c.Updated = v
	}
	return c
}
