package eventbus

import "fmt"

// Subject naming follows "dered.<domain>.<id>[.<sub>]" so a wildcard
// subscription (e.g. "dered.session.*.events") can fan out across every
// instance of a domain without the publisher knowing who's listening.

func SessionEvents(sessionID string) string {
	return fmt.Sprintf("dered.session.%s.events", sessionID)
}

func BondUpdates(userID string) string {
	return fmt.Sprintf("dered.bond.%s", userID)
}

func EmotionUpdates(sessionID string) string {
	return fmt.Sprintf("dered.emotion.%s", sessionID)
}

func RareEvents(userID string) string {
	return fmt.Sprintf("dered.rareevent.%s", userID)
}

func MissionExecutions(missionID string) string {
	return fmt.Sprintf("dered.mission.%s.executions", missionID)
}

func SwarmAgents(swarmID string) string {
	return fmt.Sprintf("dered.swarm.%s.agents", swarmID)
}

func TaskUpdates(workDir string) string {
	return fmt.Sprintf("dered.workqueue.%s.tasks", sanitizeWorkDir(workDir))
}

// sanitizeWorkDir replaces NATS subject token separators so a filesystem
// path can be embedded as one subject token.
func sanitizeWorkDir(dir string) string {
	out := make([]byte, 0, len(dir))
	for i := 0; i < len(dir); i++ {
		c := dir[i]
		if c == '.' || c == '*' || c == '>' || c == ' ' {
			out = append(out, '_')
			continue
		}
		out = append(out, c)
	}
	return string(out)
}
