package cmd

import (
	"context"
	"fmt"

	"github.com/agentic-research/intentfs/api"
)

// scaffolder builds the starting document of a new intent-type: an empty
// graal script and a YANG module with one top-level container.
type scaffolder struct{}

const scaffoldScript = `// %s_v%d
export class IntentHandler {
  synchronize(input) {
    return { success: true };
  }
}
`

const scaffoldModule = `module %[1]s {
  yang-version 1.1;
  namespace "http://www.nokia.com/management-solutions/%[1]s";
  prefix "%[1]s";

  container %[1]s {
  }
}
`

func (scaffolder) Scaffold(_ context.Context, name string, version int) (*api.IntentType, error) {
	return &api.IntentType{
		Name:          name,
		Version:       version,
		MappingEngine: "js-scripted-graal",
		Script:        fmt.Sprintf(scaffoldScript, name, version),
		Modules:       []api.Module{{Name: name + ".yang", YangContent: fmt.Sprintf(scaffoldModule, name)}},
	}, nil
}
