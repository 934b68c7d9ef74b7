package usage

// Tier is a subscription level. It decides the daily quota for every
// operation kind.
type Tier string

const (
	TierFree      Tier = "free"
	TierStarter   Tier = "starter"
	TierCreator   Tier = "creator"
	TierPro       Tier = "pro"
	TierAgency    Tier = "agency"
	TierEducation Tier = "education"
)

// OperationKind tags the category of chargeable action being metered
type OperationKind string

const (
	OpAIGeneration      OperationKind = "ai_generation"
	OpImageGeneration   OperationKind = "image_generation"
	OpSocialPost        OperationKind = "social_post"
	OpFacialRecognition OperationKind = "facial_recognition"
	OpDMReply           OperationKind = "dm_reply"
	OpMoneyPlay         OperationKind = "money_play"
)

// Unlimited marks an operation kind with no quota for a tier
const Unlimited = -1

// TierLimits maps tier -> operation kind -> daily limit. A kind missing from
// a tier's row is denied outright, so an unpriced operation fails closed
// instead of running up a bill.
type TierLimits map[Tier]map[OperationKind]int

// LimitFor resolves the daily limit for a tier and kind. Unknown tiers get
// the free tier's limits; unknown kinds get 0.
func (t TierLimits) LimitFor(tier Tier, kind OperationKind) int {
	row, ok := t[tier]
	if !ok {
		row, ok = t[TierFree]
		if !ok {
			return 0
		}
	}

	limit, ok := row[kind]
	if !ok {
		return 0
	}

	return limit
}

// DefaultTierLimits returns the stock limit table. Deployments override
// individual rows through the config file.
func DefaultTierLimits() TierLimits {
	return TierLimits{
		TierFree: {
			OpAIGeneration:      5,
			OpImageGeneration:   2,
			OpSocialPost:        3,
			OpFacialRecognition: 1,
			OpDMReply:           3,
			OpMoneyPlay:         1,
		},
		TierStarter: {
			OpAIGeneration:      50,
			OpImageGeneration:   10,
			OpSocialPost:        20,
			OpFacialRecognition: 5,
			OpDMReply:           20,
			OpMoneyPlay:         5,
		},
		TierCreator: {
			OpAIGeneration:      500,
			OpImageGeneration:   50,
			OpSocialPost:        200,
			OpFacialRecognition: 50,
			OpDMReply:           100,
			OpMoneyPlay:         Unlimited,
		},
		TierPro: {
			OpAIGeneration:      Unlimited,
			OpImageGeneration:   Unlimited,
			OpSocialPost:        Unlimited,
			OpFacialRecognition: Unlimited,
			OpDMReply:           Unlimited,
			OpMoneyPlay:         Unlimited,
		},
		TierAgency: {
			OpAIGeneration:      Unlimited,
			OpImageGeneration:   Unlimited,
			OpSocialPost:        Unlimited,
			OpFacialRecognition: Unlimited,
			OpDMReply:           Unlimited,
			OpMoneyPlay:         Unlimited,
		},
		TierEducation: {
			OpAIGeneration:      Unlimited,
			OpImageGeneration:   500,
			OpSocialPost:        Unlimited,
			OpFacialRecognition: 100,
			OpDMReply:           Unlimited,
			OpMoneyPlay:         Unlimited,
		},
	}
}

// MergeOverrides lays config-file overrides over a base table without
// touching kinds the override doesn't mention
func MergeOverrides(base TierLimits, overrides map[string]map[string]int) TierLimits {
	for tier, row := range overrides {
		if base[Tier(tier)] == nil {
			base[Tier(tier)] = make(map[OperationKind]int, len(row))
		}
		for kind, limit := range row {
			base[Tier(tier)][OperationKind(kind)] = limit
		}
	}

	return base
}

// KnownKinds lists every meterable operation kind
func KnownKinds() []OperationKind {
	return []OperationKind{
		OpAIGeneration,
		OpImageGeneration,
		OpSocialPost,
		OpFacialRecognition,
		OpDMReply,
		OpMoneyPlay,
	}
}
