package middleware

import (
	"log"

	"github.com/charmbracelet/ssh"
	"github.com/charmbracelet/wish"
	"github.com/deemkeen/mammut/db"
	"github.com/deemkeen/mammut/util"
)

// AuthMiddleware bootstraps an account for an unknown SSH public key on
// first connection.
func AuthMiddleware(database *db.DB) wish.Middleware {
	return func(h ssh.Handler) ssh.Handler {
		return func(s ssh.Session) {
			_, found := database.ReadAccBySession(s)

			switch {
			case found != nil:
				util.LogPublicKey(s)
			default:
				err, created := database.CreateAccount(s, util.RandomString(10))
				if err != nil {
					log.Fatalln("Could not create a user: ", err)
				}

				if created != false {
					util.LogPublicKey(s)
				} else {
					log.Fatalln("The user is still empty!")
				}

			}
			h(s)
		}
	}
}
