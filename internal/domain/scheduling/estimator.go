package scheduling

// EstimateTime spreads queue positions over the day from start in steps of
// consultationMinutes. With no duration every position gets start.
func EstimateTime(start TimeOfDay, consultationMinutes, queueNumber int) TimeOfDay {
	if consultationMinutes <= 0 || queueNumber <= 1 {
		return start
	}
	return start.Add((queueNumber - 1) * consultationMinutes)
}

// EffectiveDuration picks the consultation length for a booking: the
// doctor's setting, then the slot's, then fallback.
func EffectiveDuration(doc *Doctor, slot *ScheduleSlot, fallback int) int {
	if doc != nil && doc.Capacity.ConsultationMinutes > 0 {
		return doc.Capacity.ConsultationMinutes
	}
	if slot != nil && slot.ConsultationMinutes > 0 {
		return slot.ConsultationMinutes
	}
	if fallback > 0 {
		return fallback
	}
	return 0
}
