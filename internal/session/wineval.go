package session

import "mafiasim/internal/domain"

// Evaluate applies the win conditions to the current roster, in fixed order:
// a town with no mafia left has won, mafia reaching parity with the
// villagers has won, anything else continues. Pure and idempotent.
func Evaluate(agents []domain.Agent) (domain.Outcome, bool) {
	var mafia, villagers int
	for _, a := range agents {
		if !a.Alive {
			continue
		}
		if a.Role == domain.RoleMafia {
			mafia++
		} else {
			villagers++
		}
	}
	switch {
	case mafia == 0:
		return domain.OutcomeVillagers, true
	case mafia >= villagers:
		return domain.OutcomeMafia, true
	default:
		return domain.OutcomeUndecided, false
	}
}
