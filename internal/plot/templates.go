package plot

const PlotTemplate = `% Generated on {{.GeneratedDate}}
%
% Run ID: {{.RunID}}
% Run Name: {{.RunName}}
% Schedule: {{.ScheduleChecksum}} ({{.Intervals}} intervals of {{.IntervalMs}}ms)
% Complete: {{.Complete}}
% Normalized: {{.Normalized}}
{{- if .Host}}
% Host: {{.Host}}
{{- end}}
%
\begin{tikzpicture}
	\begin{axis}[
		xlabel={ {{.XLabel}} },
		ylabel={ {{.YLabel}} },
		width=\textwidth,
		height=0.6\textwidth,
		xmin={{.XMin}}, xmax={{.XMax}},
		ymin={{.YMin}}, ymax={{.YMax}},
		ymajorgrids,
		grid style=dashed,
		legend columns=2,
		legend pos=north east,
	]

{{range .Plots}}
% {{.Comment}}
\addplot+[{{.Style}}]
  coordinates {
{{range .Coordinates}}    {{.}}
{{end}}  };
\addlegendentry{ {{.LegendEntry}} }

{{end}}
	\end{axis}
\end{tikzpicture}
`

type PlotData struct {
	GeneratedDate    string
	RunID            string
	RunName          string
	ScheduleChecksum string
	Intervals        int
	IntervalMs       int
	Complete         bool
	Normalized       bool
	Host             string
	XLabel           string
	YLabel           string
	XMin             string
	XMax             string
	YMin             string
	YMax             string
	Plots            []PlotSeries
}

type PlotSeries struct {
	Comment     string
	Style       string
	LegendEntry string
	Coordinates []string
}

const WrapperTemplate = `% Generated on {{.GeneratedDate}}
% Run ID: {{.RunID}}
\begin{center}
    \begin{figure}[H]
    \centering
    \resizebox{1\linewidth}{!}{\input{./{{.PlotFileName}} }}
    \caption[{{.ShortCaption}}]{ {{.Caption}} }
    \label{fig:keytrace-{{.Label}}}
    \end{figure}
\end{center}
`

type WrapperData struct {
	GeneratedDate string
	RunID         string
	Label         string
	PlotFileName  string
	ShortCaption  string
	Caption       string
}
