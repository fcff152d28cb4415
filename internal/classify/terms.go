package classify

// Built-in term weights. Deployments overlay these from YAML files in the
// classifier terms directory. Tokens are stored in stemmed form (see
// stemToken); the YAML loader stems on the way in so config files can hold
// natural words. The vocabulary is bilingual because the upstream chat
// traffic mixes Portuguese and English.

func defaultActivityTerms() map[string]float64 {
	return map[string]float64{
		// requests and purchases
		"precis":   1.0, // preciso, precisa
		"necessit": 0.9,
		"comprar":  1.0,
		"pedid":    0.9,
		"orcament": 1.0,
		"cotaca":   0.9,
		"need":     1.0,
		"buy":      0.9,
		"order":    0.9,
		"quot":     0.8,
		"request":  0.8,

		// scheduling and delivery
		"agendar": 0.9,
		"marcar":  0.7,
		"entreg":  0.8,
		"enviar":  0.8,
		"praz":    0.7,
		"send":    0.7,
		"deliver": 0.8,
		"schedul": 0.9,

		// maintenance and problems
		"consertar": 0.9,
		"instalar":  0.9,
		"reparar":   0.9,
		"problem":   0.7,
		"quebrad":   0.8,
		"urgent":    0.9,
		"fix":       0.9,
		"install":   0.9,
		"repair":    0.9,
		"broken":    0.8,
		"issu":      0.6,

		// quantities usually signal a concrete request
		"caix":   0.5,
		"unidad": 0.5,
		"box":    0.5,
		"unit":   0.4,
	}
}

func defaultNonActivityTerms() map[string]float64 {
	return map[string]float64{
		// greetings
		"bom":       0.8,
		"boa":       0.8,
		"dia":       0.6,
		"tard":      0.6,
		"noit":      0.6,
		"ola":       0.9,
		"hell":      0.9, // hello
		"good":      0.8,
		"morning":   0.8,
		"afternoon": 0.8,
		"evening":   0.8,

		// pleasantries
		"obrigad": 0.9,
		"valeu":   0.8,
		"abrac":   0.7,
		"tchau":   0.9,
		"thank":   0.9,
		"welcom":  0.7,
		"bye":     0.9,
		"cheer":   0.6,

		// chatter
		"kkk":   0.9,
		"haha":  0.9,
		"legal": 0.6,
		"otim":  0.6,
		"nice":  0.6,
		"cool":  0.6,
		"sim":   0.4,
		"ye":    0.4, // yes
	}
}
