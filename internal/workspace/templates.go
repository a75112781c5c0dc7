package workspace

import (
	"fmt"
	"sort"
)

// Seed is one file of a project template.
type Seed struct {
	Path    string
	Content string
}

const basicHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1.0">
  <title>Playground</title>
  <link rel="stylesheet" href="styles.css">
</head>
<body>
  <div id="app">
    <h1>Welcome to the Playground</h1>
    <p>Modify the HTML, CSS, or JS to see real-time changes.</p>
    <p><a href="about.html">Go to the about page</a></p>
  </div>
  <script src="./script.js"></script>
</body>
</html>
`

const aboutHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <title>About</title>
  <link rel="stylesheet" href="styles.css">
</head>
<body>
  <div id="app">
    <h1>About</h1>
    <p>This is a secondary page.</p>
    <p><a href="./index.html">Back to home</a></p>
  </div>
</body>
</html>
`

const basicCSS = `* {
  margin: 0;
  padding: 0;
  box-sizing: border-box;
}

body {
  font-family: Arial, sans-serif;
  background-color: #f5f5f5;
  color: #333;
  text-align: center;
  padding: 2rem;
}

h1 {
  color: #0070f3;
}

button {
  padding: 10px 20px;
  border: none;
  border-radius: 5px;
  background-color: #0070f3;
  color: white;
  cursor: pointer;
}
`

const basicJS = `document.addEventListener('DOMContentLoaded', () => {
  const app = document.getElementById('app');
  if (app) {
    const paragraph = document.createElement('p');
    paragraph.textContent = 'This paragraph was added dynamically with JavaScript.';
    app.appendChild(paragraph);

    const button = document.createElement('button');
    button.textContent = 'Change Text';
    button.onclick = () => {
      paragraph.textContent = 'Button Clicked! Text Changed.';
    };
    app.appendChild(button);
  }

  console.log('JavaScript initialized.');
});
`

const reactHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <title>React Playground</title>
</head>
<body>
  <div id="app"></div>
</body>
</html>
`

const reactApp = `import React, { useState } from 'react';
import Header from './Header';
import Footer from './Footer';

export default function App() {
  const [count, setCount] = useState(0);

  return (
    <div className="app">
      <Header title="React Playground" />
      <main>
        <p>Count: {count}</p>
        <button onClick={() => setCount(count + 1)}>Increment</button>
      </main>
      <Footer />
    </div>
  );
}
`

const reactHeader = `import React from 'react';

export default function Header({ title }) {
  return (
    <header>
      <h1>{title}</h1>
    </header>
  );
}
`

const reactFooter = `import React from 'react';

export default function Footer() {
  return (
    <footer>
      <p>Edit App.jsx and watch the preview refresh.</p>
    </footer>
  );
}
`

const reactPackageJSON = `{
  "name": "playground-project",
  "version": "1.0.0",
  "dependencies": {
    "react": "^18.2.0",
    "react-dom": "^18.2.0"
  }
}
`

var templates = map[string][]Seed{
	"basic": {
		{Path: "index.html", Content: basicHTML},
		{Path: "about.html", Content: aboutHTML},
		{Path: "styles.css", Content: basicCSS},
		{Path: "script.js", Content: basicJS},
	},
	"react": {
		{Path: "index.html", Content: reactHTML},
		{Path: "styles.css", Content: basicCSS},
		{Path: "App.jsx", Content: reactApp},
		{Path: "Header.jsx", Content: reactHeader},
		{Path: "Footer.jsx", Content: reactFooter},
		{Path: ManifestName, Content: reactPackageJSON},
	},
}

// Templates lists the available template names.
func Templates() []string {
	out := make([]string, 0, len(templates))
	for name := range templates {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Template returns the seed files of a template.
func Template(name string) ([]Seed, error) {
	seeds, ok := templates[name]
	if !ok {
		return nil, fmt.Errorf("unknown template %q", name)
	}
	return append([]Seed(nil), seeds...), nil
}

// Seed creates the given files in order.
func (s *Store) Seed(seeds []Seed) error {
	for _, sd := range seeds {
		if _, err := s.Create(sd.Path, sd.Content); err != nil {
			return err
		}
	}
	return nil
}
