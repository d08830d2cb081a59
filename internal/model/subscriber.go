package model

// Recipients is the contact set to notify for one (center, license) scope.
type Recipients struct {
	Emails      []string `json:"emails"`
	TelegramIDs []int64  `json:"telegram_ids"`
	DiscordIDs  []string `json:"discord_ids"`
}

func (r Recipients) Empty() bool {
	return len(r.Emails) == 0 && len(r.TelegramIDs) == 0 && len(r.DiscordIDs) == 0
}
