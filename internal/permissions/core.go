package permissions

// Operation identifiers used by the HTTP surface and the guard.
const (
	OpGetParam             = "param.get"
	OpWhitelistParam       = "param.whitelist"
	OpIsParamWhitelisted   = "param.whitelisted"
	OpIsParamTimeAvailable = "param.time_available"
	OpLogParamUsage        = "param.log_usage"
	OpIsManager            = "manager.check"
	OpEditManager          = "manager.edit"
	OpIsController         = "controller.check"
	OpSetTimerLimit        = "settings.timer_limit"
	OpSetMaxCallsPerUser   = "settings.max_calls_per_user"
	OpViewSettings         = "settings.view"
	OpWhoAmI               = "identity.whoami"
	OpListOperations       = "operations.list"
	OpViewAudit            = "audit.view"
	OpSecurityAudit        = "security.audit"
)

func init() {
	ops := []*Operation{
		{ID: OpGetParam, Tier: TierNone, Description: "Read the usage record of a param"},
		{ID: OpWhitelistParam, Tier: TierAdmin, Mutates: true, Description: "Create or replace a param record"},
		{ID: OpIsParamWhitelisted, Tier: TierNone, Description: "Report whether a param is whitelisted"},
		{ID: OpIsParamTimeAvailable, Tier: TierNone, Description: "Report whether a param's cooldown has elapsed"},
		{ID: OpLogParamUsage, Tier: TierManager, Mutates: true, Description: "Record one use of a whitelisted param"},
		{ID: OpIsManager, Tier: TierNone, Description: "Report whether a principal is a trusted manager"},
		{ID: OpEditManager, Tier: TierAdmin, Mutates: true, Description: "Grant or revoke manager trust"},
		{ID: OpIsController, Tier: TierNone, Description: "Report whether the caller is a controller"},
		{ID: OpSetTimerLimit, Tier: TierAdmin, Mutates: true, Description: "Set the param cooldown threshold"},
		{ID: OpSetMaxCallsPerUser, Tier: TierAdmin, Mutates: true, Description: "Set the reserved per-user call limit"},
		{ID: OpViewSettings, Tier: TierAdmin, Description: "Read administrative settings"},
		{ID: OpWhoAmI, Tier: TierNone, Description: "Echo the caller principal"},
		{ID: OpListOperations, Tier: TierNone, Description: "List operations and their tiers"},
		{ID: OpViewAudit, Tier: TierAdmin, Description: "List recorded registry mutations"},
		{ID: OpSecurityAudit, Tier: TierAdmin, Description: "Run the configuration posture check"},
	}

	for _, op := range ops {
		if err := Register(op); err != nil {
			panic(err)
		}
	}
}
