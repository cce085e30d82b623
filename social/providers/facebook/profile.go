package facebook

import "github.com/socialauth/go-socialauth/social"

type facebookUserInfo struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Picture struct {
		Data struct {
			URL string `json:"url"`
		} `json:"data"`
	} `json:"picture"`
}

func mapProfile(info *facebookUserInfo) *social.Profile {
	if info == nil {
		return nil
	}

	// The Graph API only returns an email the user has confirmed, so a
	// present email counts as verified.
	return &social.Profile{
		ProviderUserID: info.ID,
		Provider:       "facebook",
		Email:          info.Email,
		EmailVerified:  info.Email != "",
		Name:           info.Name,
		AvatarURL:      info.Picture.Data.URL,
		Raw: map[string]any{
			"id":    info.ID,
			"name":  info.Name,
			"email": info.Email,
		},
	}
}
