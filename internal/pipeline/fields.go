package pipeline

// Shared input fields, set in the initial state of every pipeline.
const (
	FieldCompanyName = "company_name"
	FieldTranscripts = "transcripts"
	FieldNotes       = "notes"
	FieldStage       = "stage"
)

// Need analysis fields.
const (
	FieldProposedNeeds      = "proposed_needs"
	FieldValidatedNeeds     = "validated_needs"
	FieldRejectedNeeds      = "rejected_needs"
	FieldNeedsFeedback      = "needs_feedback"
	FieldNeedsAction        = "needs_action"
	FieldNeedsDecision      = "validation_result"
	FieldProposedQuickWins  = "proposed_quick_wins"
	FieldValidatedQuickWins = "validated_quick_wins"
	FieldRejectedQuickWins  = "rejected_quick_wins"
	FieldQuickWinsCount     = "validated_quick_wins_count"

	FieldProposedStructuration  = "proposed_structuration"
	FieldValidatedStructuration = "validated_structuration"
	FieldRejectedStructuration  = "rejected_structuration"
	FieldStructurationCount     = "validated_structuration_count"

	FieldUseCaseFeedback = "use_case_feedback"
	FieldUseCaseAction   = "use_case_action"
	FieldUseCaseDecision = "use_case_validation"
)

// Executive summary fields.
const (
	FieldChallenges               = "challenges"
	FieldMaturity                 = "maturity"
	FieldQuotes                   = "quotes"
	FieldProposedRecommendations  = "proposed_recommendations"
	FieldValidatedRecommendations = "validated_recommendations"
	FieldRejectedRecommendations  = "rejected_recommendations"
	FieldRecommendationsFeedback  = "recommendations_feedback"
	FieldRecommendationsAction    = "recommendations_action"
	FieldRecommendationsDecision  = "recommendations_validation"
	FieldExecutiveSummary         = "executive_summary"
)

// Value chain fields.
const (
	FieldProposedTeams  = "proposed_teams"
	FieldValidatedTeams = "validated_teams"
	FieldRejectedTeams  = "rejected_teams"
	FieldTeamsFeedback  = "teams_feedback"
	FieldTeamsAction    = "teams_action"
	FieldTeamsDecision  = "teams_validation"
	FieldMappingPlan    = "mapping_plan"
	FieldActivities     = "activities"
	FieldFrictions      = "frictions"
	FieldValueChain     = "value_chain"
)

// Run configuration keys.
const (
	// ConfigPipeline records which pipeline a thread was started with.
	ConfigPipeline           = "pipeline"
	ConfigCompanyName        = "company_name"
	ConfigValidatedThreshold = "validated_threshold"
	ConfigItemsPerCategory   = "items_per_category"
	ConfigNeedsPerRound      = "needs_per_round"
)

// Defaults for the configuration keys above.
const (
	DefaultValidatedThreshold = 5
	DefaultItemsPerCategory   = 5
	DefaultNeedsPerRound      = 10
)

// Use case categories.
const (
	CategoryQuickWin      = "quick_win"
	CategoryStructuration = "structuration"
)

// Recoverable error codes recorded by pipeline nodes.
const (
	CodeMissingInput     = "MISSING_INPUT"
	CodeGenerationFailed = "GENERATION_FAILED"
	CodeInvalidOutput    = "INVALID_OUTPUT"
)
