package github

import (
	"strconv"

	"github.com/goliatone/go-auth-client/social"
)

type githubUser struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url"`
	HTMLURL   string `json:"html_url"`
}

func mapProfile(provider string, user *githubUser, email string) *social.Profile {
	if user == nil {
		return nil
	}

	return &social.Profile{
		ProviderUserID: strconv.FormatInt(user.ID, 10),
		Provider:       provider,
		Email:          email,
		Name:           user.Name,
		Username:       user.Login,
		AvatarURL:      user.AvatarURL,
		ProfileURL:     user.HTMLURL,
	}
}
