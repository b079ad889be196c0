package subscription

// Config configures trials and the plan table.
type Config struct {
	TrialDays    int    `env:"TRIAL_DAYS" envDefault:"14"`
	ReminderDays []int  `env:"TRIAL_REMINDER_DAYS" envDefault:"7,11,14"`
	PlansFile    string `env:"PLANS_FILE"`
	Prices       PlanPrices
}

// DefaultConfig mirrors the envDefault values.
func DefaultConfig() Config {
	return Config{
		TrialDays:    14,
		ReminderDays: []int{7, 11, 14},
		Prices: PlanPrices{
			Starter:      "price_starter",
			Professional: "price_professional",
			Enterprise:   "price_enterprise",
		},
	}
}
