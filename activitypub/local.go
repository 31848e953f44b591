package activitypub

import (
	"fmt"
	"log"

	"github.com/Toromino/kibou-sub000/domain"
	"github.com/Toromino/kibou-sub000/util"
	"golang.org/x/crypto/bcrypt"
)

// bcryptCost is the work factor for local actor passwords.
const bcryptCost = 10

// NewLocalActor signs up a local user: validates the username, hashes the
// password, generates the RSA keypair and persists the actor. Fails when
// registrations are disabled or the username is taken.
func NewLocalActor(conf *util.AppConfig, deps *Deps, username, email, password string) (error, *domain.Actor) {
	if !conf.Node.RegistrationsEnabled {
		return fmt.Errorf("%w: registrations are disabled", ErrValidation), nil
	}

	if ok, reason := util.IsValidUsername(username); !ok {
		return fmt.Errorf("%w: %s", ErrValidation, reason), nil
	}

	if err, existing := deps.Database.ReadLocalActorByUsername(username); err == nil && existing != nil {
		return fmt.Errorf("%w: username %s is taken", ErrConflict, username), nil
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err), nil
	}

	keypair := util.GeneratePemKeypair()

	actorURI := conf.ActorURI(username)
	actor := &domain.Actor{
		ActorURI:          actorURI,
		PreferredUsername: username,
		InboxURI:          actorURI + "/inbox",
		PublicKeyPem:      keypair.Public,
		PrivateKeyPem:     keypair.Private,
		Local:             true,
		Email:             email,
		PasswordHash:      string(passwordHash),
	}

	if err := deps.Database.CreateActor(actor); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: username %s is taken", ErrConflict, username), nil
		}
		return fmt.Errorf("failed to create actor: %w", err), nil
	}

	log.Printf("Signup: Created local actor %s", actorURI)
	return deps.Database.ReadActorByURI(actorURI)
}

// CheckPassword verifies a local actor's password.
func CheckPassword(actor *domain.Actor, password string) bool {
	if !actor.Local || actor.PasswordHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(actor.PasswordHash), []byte(password)) == nil
}
