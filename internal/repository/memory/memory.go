package memory

import (
	"mule_analyzer/internal/repository"
)

var (
	_ repository.TransactionRepository = (*TransactionRepository)(nil)
	_ repository.AccountRepository     = (*AccountRepository)(nil)
	_ repository.CustomerRepository    = (*CustomerRepository)(nil)
	_ repository.LabelRepository       = (*LabelRepository)(nil)
	_ repository.RuleRepository        = (*RuleRepository)(nil)
)
